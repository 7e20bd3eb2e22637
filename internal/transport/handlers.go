package transport

import (
	"fmt"
	"io"
	"net/http"

	"httpgate/internal/http/request"
	"httpgate/internal/http/response"
	"httpgate/internal/registry"

	"github.com/valyala/bytebufferpool"
)

// maxEchoBody caps how much of a request body EchoHandler reflects.
const maxEchoBody = 1 << 20

func PingHandler() registry.Handler {
	return registry.HandlerFunc(func(w *response.Writer, _ *request.Request, _ io.Reader) error {
		h := w.Header()
		h.Insert("Access-Control-Allow-Origin", "*")
		h.Insert("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		h.Insert("Access-Control-Allow-Headers", "*")
		return w.WriteResponse(http.StatusOK, nil)
	})
}

// EchoHandler answers with the request line, every request header in
// arrival order and the request body.
func EchoHandler() registry.Handler {
	return registry.HandlerFunc(func(w *response.Writer, req *request.Request, body io.Reader) error {
		if req.ContentLength > maxEchoBody {
			// The unread body is too large to drain.
			w.SetKeepAlive(false)
			return w.WriteResponse(http.StatusRequestEntityTooLarge, nil)
		}

		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)

		fmt.Fprintf(buf, "%s %s %s\r\n", req.MethodStr, req.URI.Raw, req.Version)
		for e := range req.Headers.All() {
			buf.B = append(buf.B, e.Bytes()...)
			buf.B = append(buf.B, '\r', '\n')
		}
		buf.B = append(buf.B, '\r', '\n')
		if _, err := buf.ReadFrom(body); err != nil {
			return fmt.Errorf("read request body: %w", err)
		}

		w.Header().Insert("Content-Type", "text/plain; charset=utf-8")
		return w.WriteResponse(http.StatusOK, buf.B)
	})
}

func NotFoundHandler() registry.Handler {
	return registry.HandlerFunc(func(w *response.Writer, _ *request.Request, _ io.Reader) error {
		w.Header().Insert("Content-Type", "text/plain; charset=utf-8")
		return w.WriteResponse(http.StatusNotFound, []byte("no site is configured for this host\n"))
	})
}
