// Package accesslog writes one structured line per answered request from
// a background worker. Each queued record holds its own reference to the
// request's header collection until the line is written.
package accesslog

import (
	"net"
	"sync"
	"time"

	"httpgate/internal/http/header"
	"httpgate/types"

	"go.uber.org/zap"
)

const DefaultQueueSize = 1024

type Record struct {
	Remote   net.Addr
	Method   string
	Target   string
	Version  types.Version
	Status   int
	Duration time.Duration
	Headers  *header.Headers
}

type DropCounter interface {
	AccessLogDropped()
}

type Logger struct {
	logger *zap.Logger
	drops  DropCounter

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

func New(logger *zap.Logger, size int, drops DropCounter) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	l := &Logger{
		logger: logger,
		drops:  drops,
		queue:  make(chan Record, size),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues rec and takes a reference on rec.Headers. It reports
// false when the record was dropped.
func (l *Logger) Record(rec Record) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}

	if rec.Headers != nil {
		rec.Headers.Acquire()
	}
	select {
	case l.queue <- rec:
		return true
	default:
		header.Release(rec.Headers)
		if l.drops != nil {
			l.drops.AccessLogDropped()
		}
		return false
	}
}

// Close stops accepting records and waits until the queue is drained.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	for rec := range l.queue {
		l.write(rec)
		header.Release(rec.Headers)
	}
}

func (l *Logger) write(rec Record) {
	fields := []zap.Field{
		zap.String("method", rec.Method),
		zap.String("target", rec.Target),
		zap.Stringer("proto", rec.Version),
		zap.Int("status", rec.Status),
		zap.Duration("duration", rec.Duration),
	}
	if rec.Remote != nil {
		fields = append(fields, zap.String("remote", rec.Remote.String()))
	}
	if h := rec.Headers; h != nil {
		if e := h.Lookup("Host"); e != nil {
			fields = append(fields, zap.String("host", e.Value()))
		}
		if ua := h.GetCombined(nil, "User-Agent"); len(ua) > 0 {
			fields = append(fields, zap.ByteString("user_agent", ua))
		}
		if e := h.Lookup("Referer"); e != nil {
			fields = append(fields, zap.String("referer", e.Value()))
		}
		fields = append(fields, zap.Int("headers", h.Len()))
	}
	l.logger.Info("request", fields...)
}
