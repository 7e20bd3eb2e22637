package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"httpgate/internal/accesslog"
	"httpgate/internal/http/parser"
	"httpgate/internal/http/request"
	"httpgate/internal/http/response"
	"httpgate/internal/http/uri"
	"httpgate/internal/metrics"
	"httpgate/internal/middleware"
	"httpgate/internal/random"
	"httpgate/internal/registry"
	"httpgate/types"

	"go.uber.org/zap"
)

const (
	DefaultBufferSize  = 32 << 10
	DefaultIdleTimeout = 60 * time.Second
)

// Options configures the per-connection request loop shared by the HTTP
// and HTTPS servers. Zero values pick defaults; nil Metrics and AccessLog
// disable those sinks.
type Options struct {
	Registry  registry.Registry
	Fallback  registry.Handler
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	AccessLog *accesslog.Logger

	BufferSize     int
	MaxHeaderBytes int
	MaxRequests    int
	IdleTimeout    time.Duration
}

type connHandler struct {
	registry  registry.Registry
	fallback  registry.Handler
	logger    *zap.Logger
	metrics   *metrics.Metrics
	accessLog *accesslog.Logger

	parser    *parser.Parser
	validator *request.Validator
	requestID *middleware.RequestID
	server    *middleware.ServerFingerprint

	bufferSize  int
	maxRequests int
	idleTimeout time.Duration
}

func newConnHandler(opts Options) *connHandler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.NewRegistry()
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NotFoundHandler()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	urls := uri.Parser{}
	return &connHandler{
		registry:    reg,
		fallback:    fallback,
		logger:      logger,
		metrics:     m,
		accessLog:   opts.AccessLog,
		parser:      parser.New(opts.MaxHeaderBytes),
		validator:   request.NewValidator(urls, urls, logger.Named("validator")),
		requestID:   middleware.NewRequestID(random.New()),
		server:      middleware.NewServerFingerprint(),
		bufferSize:  bufferSize,
		maxRequests: opts.MaxRequests,
		idleTimeout: idle,
	}
}

// Handle runs the request loop on conn until the peer or a response
// closes it.
func (ch *connHandler) Handle(conn net.Conn, isTLS bool) {
	defer ch.closeConnection(conn)

	served := 0
	ch.metrics.ConnectionOpened()
	defer func() { ch.metrics.ConnectionClosed(served) }()

	log := ch.logger.With(zap.Stringer("remote", conn.RemoteAddr()), zap.Bool("tls", isTLS))
	br := bufio.NewReaderSize(conn, ch.bufferSize)
	req := request.New()
	defer req.Clear()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(ch.idleTimeout)); err != nil {
			log.Debug("set read deadline", zap.Error(err))
			return
		}
		if err := ch.parser.Read(br, req); err != nil {
			ch.handleParseError(conn, req, err, log)
			return
		}
		// Reading the body and writing the response share one window.
		if err := conn.SetDeadline(time.Now().Add(ch.idleTimeout)); err != nil {
			log.Debug("set request deadline", zap.Error(err))
			return
		}
		served++

		last := ch.maxRequests > 0 && served >= ch.maxRequests
		keepAlive, err := ch.serve(conn, br, req, last, log)
		if err != nil {
			log.Debug("request ended the connection", zap.Error(err))
			return
		}
		if !keepAlive {
			return
		}
		ch.metrics.ObserveHeaderReset(req.Reset())
	}
}

func (ch *connHandler) handleParseError(conn net.Conn, req *request.Request, err error, log *zap.Logger) {
	var status int
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrDeadlineExceeded):
		return
	case errors.Is(err, parser.ErrUnknownMethod):
		status = http.StatusNotImplemented
	case errors.Is(err, parser.ErrHeaderTooLarge):
		status = http.StatusRequestHeaderFieldsTooLarge
	default:
		status = http.StatusBadRequest
	}

	log.Debug("unparseable request", zap.Int("status", status), zap.Error(err))
	start := time.Now()
	if derr := conn.SetWriteDeadline(start.Add(ch.idleTimeout)); derr != nil {
		log.Debug("set write deadline", zap.Error(derr))
		return
	}
	if werr := response.WriteDirect(conn, status, req.Version, ch.server); werr != nil {
		log.Debug("write direct response", zap.Error(werr))
	}
	ch.finish(conn, req, status, start)
}

// serve answers one parsed request and reports whether the connection
// may carry another.
func (ch *connHandler) serve(conn net.Conn, br *bufio.Reader, req *request.Request, last bool, log *zap.Logger) (bool, error) {
	start := time.Now()

	outcome := ch.validator.Validate(req)
	if !outcome.Accepted() {
		err := response.WriteDirect(conn, outcome.Status, req.Version, ch.server)
		ch.finish(conn, req, outcome.Status, start)
		if err != nil {
			return false, fmt.Errorf("write rejection: %w", err)
		}
		return false, nil
	}

	if req.Expect100Continue {
		if err := response.WriteContinue(conn); err != nil {
			return false, fmt.Errorf("write continue: %w", err)
		}
	}

	for _, mw := range []middleware.RequestMiddleware{
		middleware.NewForwardedFor(conn.RemoteAddr()),
		ch.requestID,
	} {
		if err := mw.HandleRequest(req.Headers); err != nil {
			log.Warn("request middleware failed", zap.Error(err))
			_ = response.WriteDirect(conn, http.StatusInternalServerError, req.Version, ch.server)
			ch.finish(conn, req, http.StatusInternalServerError, start)
			return false, nil
		}
	}

	keepAlive := outcome.KeepAlive && !last
	rw := response.NewWriter(conn, req.Version)
	defer rw.Close()
	rw.SetKeepAlive(keepAlive)
	rw.SetHeadOnly(req.Method == types.MethodHEAD)
	rw.UseResponseMiddleware(ch.server)

	body := &io.LimitedReader{R: br, N: max(req.ContentLength, 0)}
	if err := ch.lookup(req.URI.Host).ServeRequest(rw, req, body); err != nil {
		log.Warn("handler failed", zap.String("host", req.URI.Host), zap.Error(err))
		if rw.Written() {
			return false, err
		}
		rw.SetKeepAlive(false)
		if werr := rw.WriteResponse(http.StatusInternalServerError, nil); werr != nil {
			return false, werr
		}
	}
	if !rw.Written() {
		if err := rw.WriteResponse(http.StatusNoContent, nil); err != nil {
			return false, err
		}
	}
	ch.finish(conn, req, rw.Status(), start)
	keepAlive = keepAlive && rw.KeepAlive()

	// Unread body bytes would be taken for the next request line.
	if keepAlive && body.N > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(ch.idleTimeout)); err != nil {
			return false, fmt.Errorf("set drain deadline: %w", err)
		}
		if _, err := io.Copy(io.Discard, body); err != nil {
			return false, fmt.Errorf("drain body: %w", err)
		}
	}
	return keepAlive, nil
}

func (ch *connHandler) lookup(host string) registry.Handler {
	if host == "" {
		return ch.fallback
	}
	h, err := ch.registry.Get(host)
	if err != nil {
		return ch.fallback
	}
	return h
}

func (ch *connHandler) finish(conn net.Conn, req *request.Request, status int, start time.Time) {
	ch.metrics.ObserveRequest(status)
	if ch.accessLog == nil {
		return
	}
	ch.accessLog.Record(accesslog.Record{
		Remote:   conn.RemoteAddr(),
		Method:   req.MethodStr,
		Target:   req.URI.Raw,
		Version:  req.Version,
		Status:   status,
		Duration: time.Since(start),
		Headers:  req.Headers,
	})
}

func (ch *connHandler) closeConnection(conn net.Conn) {
	err := conn.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		ch.logger.Debug("close connection", zap.Error(err))
	}
}
