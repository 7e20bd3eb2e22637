package response

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"httpgate/internal/http/header"
	"httpgate/internal/middleware"
	"httpgate/types"

	"github.com/valyala/bytebufferpool"
)

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

type Writer struct {
	w         io.Writer
	version   types.Version
	header    *header.Headers
	respMW    []middleware.ResponseMiddleware
	keepAlive bool
	headOnly  bool
	status    int
	written   bool
}

func NewWriter(w io.Writer, version types.Version) *Writer {
	return &Writer{
		w:       w,
		version: version,
		header:  header.New(),
	}
}

func (rw *Writer) Header() *header.Headers {
	return rw.header
}

func (rw *Writer) UseResponseMiddleware(mw middleware.ResponseMiddleware) {
	rw.respMW = append(rw.respMW, mw)
}

func (rw *Writer) SetKeepAlive(keepAlive bool) {
	rw.keepAlive = keepAlive
}

func (rw *Writer) KeepAlive() bool {
	return rw.keepAlive
}

// SetHeadOnly suppresses the body while keeping its Content-Length, as
// a HEAD response requires.
func (rw *Writer) SetHeadOnly(headOnly bool) {
	rw.headOnly = headOnly
}

func (rw *Writer) Written() bool {
	return rw.written
}

func (rw *Writer) Status() int {
	return rw.status
}

// WriteResponse renders the status line, headers and body in one write.
// It may be called once per request.
func (rw *Writer) WriteResponse(status int, body []byte) error {
	if rw.written {
		return fmt.Errorf("response already written")
	}
	rw.written = true
	rw.status = status

	for _, m := range rw.respMW {
		if err := m.HandleResponse(rw.header, body); err != nil {
			return fmt.Errorf("apply response middleware: %w", err)
		}
	}

	h := rw.header
	if !h.FindFirst("Date").Valid() {
		h.Insert("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	bodyless := bodylessStatus(status)
	if bodyless {
		h.Remove("Content-Length")
	} else {
		h.Overwrite("Content-Length", strconv.Itoa(len(body)))
	}
	switch {
	case !rw.keepAlive:
		h.Overwrite("Connection", "close")
	case rw.version == types.Version10:
		h.Overwrite("Connection", "keep-alive")
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = appendStatusLine(buf.B, rw.version, status)
	buf.B = h.AppendWire(buf.B)
	buf.B = append(buf.B, '\r', '\n')
	if !rw.headOnly && !bodyless {
		buf.B = append(buf.B, body...)
	}

	_, err := rw.w.Write(buf.B)
	return err
}

// Close drops the writer's reference to its header collection.
func (rw *Writer) Close() {
	header.Release(rw.header)
	rw.header = nil
}

// WriteDirect answers a request the server refuses to process. The
// connection is always marked for closing.
func WriteDirect(w io.Writer, status int, version types.Version, mws ...middleware.ResponseMiddleware) error {
	rw := NewWriter(w, version)
	defer rw.Close()
	for _, mw := range mws {
		rw.UseResponseMiddleware(mw)
	}
	rw.Header().Insert("Content-Type", "text/plain; charset=utf-8")
	body := fmt.Sprintf("%d %s\n", status, StatusText(status))
	return rw.WriteResponse(status, []byte(body))
}

// bodylessStatus reports statuses that carry neither a body nor a
// Content-Length.
func bodylessStatus(status int) bool {
	return status < http.StatusOK || status == http.StatusNoContent
}

func WriteContinue(w io.Writer) error {
	_, err := w.Write(continueResponse)
	return err
}

func StatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown Status"
}

// Responses to requests without a usable version go out as HTTP/1.1.
func appendStatusLine(dst []byte, version types.Version, status int) []byte {
	proto := version.String()
	if proto == "" {
		proto = types.Version11.String()
	}
	dst = append(dst, proto...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(status)...)
	return append(dst, '\r', '\n')
}
