package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"httpgate/internal/accesslog"
	"httpgate/internal/http/request"
	"httpgate/internal/http/response"
	"httpgate/internal/metrics"
	"httpgate/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testRegistry(t *testing.T) registry.Registry {
	t.Helper()
	reg := registry.NewRegistry()
	require.True(t, reg.Register("ping.test", PingHandler()))
	require.True(t, reg.Register("echo.test", EchoHandler()))
	require.True(t, reg.Register("broken.test", registry.HandlerFunc(
		func(*response.Writer, *request.Request, io.Reader) error {
			return errors.New("backend unavailable")
		})))
	return reg
}

// exchange sends raw over a loopback connection served by ch, half-closes
// the client side and returns everything the server wrote back.
func exchange(t *testing.T, ch *connHandler, raw string) []byte {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		ch.Handle(conn, false)
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	<-done
	return out
}

type parsedResponse struct {
	status        int
	header        http.Header
	body          string
	close         bool
	contentLength int64
}

func readResponses(t *testing.T, raw []byte, methods ...string) []parsedResponse {
	t.Helper()
	br := bufio.NewReader(bytes.NewReader(raw))
	var out []parsedResponse
	for i := 0; ; i++ {
		if _, err := br.Peek(1); err != nil {
			break
		}
		method := http.MethodGet
		if i < len(methods) {
			method = methods[i]
		}
		resp, err := http.ReadResponse(br, &http.Request{Method: method})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		out = append(out, parsedResponse{
			status:        resp.StatusCode,
			header:        resp.Header,
			body:          string(body),
			close:         resp.Close,
			contentLength: resp.ContentLength,
		})
	}
	return out
}

func TestHandle_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status int
	}{
		{"missing host on 1.1", "GET / HTTP/1.1\r\n\r\n", http.StatusBadRequest},
		{"duplicate host", "GET / HTTP/1.1\r\nHost: a.test\r\nHost: a.test\r\n\r\n", http.StatusBadRequest},
		{"unsupported version", "GET / HTTP/2.0\r\nHost: ping.test\r\n\r\n", http.StatusHTTPVersionNotSupported},
		{"unknown method", "BREW /pot HTTP/1.1\r\nHost: ping.test\r\n\r\n", http.StatusNotImplemented},
		{"malformed header", "GET / HTTP/1.1\r\nHost ping.test\r\n\r\n", http.StatusBadRequest},
		{"bad content length", "POST / HTTP/1.1\r\nHost: ping.test\r\nContent-Length: ten\r\n\r\n", http.StatusBadRequest},
		{"negative content length", "POST / HTTP/1.1\r\nHost: ping.test\r\nContent-Length: -1\r\n\r\n", http.StatusBadRequest},
		{"huge content length", "POST / HTTP/1.1\r\nHost: ping.test\r\nContent-Length: 99999999999999999999\r\n\r\n", http.StatusRequestEntityTooLarge},
		{"length required", "POST / HTTP/1.1\r\nHost: ping.test\r\n\r\n", http.StatusLengthRequired},
		{"unsupported expectation", "PUT / HTTP/1.1\r\nHost: ping.test\r\nExpect: teapot\r\n\r\n", http.StatusExpectationFailed},
		{"body on GET", "GET / HTTP/1.1\r\nHost: ping.test\r\nContent-Length: 3\r\n\r\nabc", http.StatusBadRequest},
		{"asterisk on GET", "GET * HTTP/1.1\r\nHost: ping.test\r\n\r\n", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newConnHandler(Options{Registry: testRegistry(t)})
			// A second request must never be read after a rejection.
			raw := tt.raw + "GET / HTTP/1.1\r\nHost: ping.test\r\n\r\n"

			responses := readResponses(t, exchange(t, ch, raw))
			require.Len(t, responses, 1)
			assert.Equal(t, tt.status, responses[0].status)
			assert.True(t, responses[0].close)
			assert.Contains(t, responses[0].body, response.StatusText(tt.status))
			assert.True(t, strings.HasPrefix(responses[0].header.Get("Server"), "httpgate"))
		})
	}
}

func TestHandle_HeaderTooLarge(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t), MaxHeaderBytes: 1024})
	raw := "GET / HTTP/1.1\r\nHost: ping.test\r\nX-Big: " + strings.Repeat("a", 2048) + "\r\n\r\n"

	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusRequestHeaderFieldsTooLarge, responses[0].status)
}

func TestHandle_Echo(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t)})
	raw := "POST /submit?x=1 HTTP/1.1\r\nHost: echo.test\r\nX-Trace: a\r\nx-trace: b\r\nContent-Length: 5\r\n\r\nhello"

	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, http.StatusOK, resp.status)
	assert.False(t, resp.close)

	lines := strings.Split(resp.body, "\r\n")
	assert.Equal(t, "POST /submit?x=1 HTTP/1.1", lines[0])
	assert.Equal(t, "Host: echo.test", lines[1])
	assert.Equal(t, "X-Trace: a", lines[2])
	assert.Equal(t, "x-trace: b", lines[3])
	assert.Contains(t, resp.body, "X-Forwarded-For: 127.0.0.1\r\n")
	assert.Contains(t, resp.body, "X-Request-Id: ")
	assert.True(t, strings.HasSuffix(resp.body, "\r\n\r\nhello"))
}

func TestHandle_KeepAlivePipelined(t *testing.T) {
	reg := prometheus.NewRegistry()
	ch := newConnHandler(Options{Registry: testRegistry(t), Metrics: metrics.New(reg)})
	raw := "GET / HTTP/1.1\r\nHost: ping.test\r\n\r\n" +
		"GET / HTTP/1.1\r\nHost: ping.test\r\n\r\n" +
		"GET / HTTP/1.1\r\nHost: ping.test\r\nConnection: close\r\n\r\n" +
		"GET / HTTP/1.1\r\nHost: ping.test\r\n\r\n"

	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 3)
	for _, r := range responses {
		assert.Equal(t, http.StatusOK, r.status)
		assert.Equal(t, "*", r.header.Get("Access-Control-Allow-Origin"))
	}
	assert.False(t, responses[0].close)
	assert.True(t, responses[2].close)

	expected := `
# HELP httpgate_header_resets_total Header collection resets between keep-alive requests
# TYPE httpgate_header_resets_total counter
httpgate_header_resets_total{result="reused"} 2
# HELP httpgate_http_requests_total Total number of requests answered, by status code
# TYPE httpgate_http_requests_total counter
httpgate_http_requests_total{code="200"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"httpgate_header_resets_total", "httpgate_http_requests_total"))
}

func TestHandle_HTTP10(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		responses int
	}{
		{
			name:      "closes by default",
			raw:       "GET / HTTP/1.0\r\n\r\nGET / HTTP/1.0\r\n\r\n",
			responses: 1,
		},
		{
			name:      "keep-alive token",
			raw:       "GET / HTTP/1.0\r\nConnection: Keep-Alive\r\nHost: ping.test\r\n\r\nGET / HTTP/1.0\r\nHost: ping.test\r\n\r\n",
			responses: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newConnHandler(Options{Registry: testRegistry(t)})
			responses := readResponses(t, exchange(t, ch, tt.raw))
			assert.Len(t, responses, tt.responses)
		})
	}
}

func TestHandle_MaxRequests(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t), MaxRequests: 2})
	raw := strings.Repeat("GET / HTTP/1.1\r\nHost: ping.test\r\n\r\n", 3)

	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 2)
	assert.False(t, responses[0].close)
	assert.True(t, responses[1].close)
}

func TestHandle_DrainsUnreadBody(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t)})
	raw := "POST /upload HTTP/1.1\r\nHost: ping.test\r\nContent-Length: 11\r\n\r\nhello world" +
		"GET /next HTTP/1.1\r\nHost: echo.test\r\n\r\n"

	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 2)
	assert.Equal(t, http.StatusOK, responses[0].status)
	assert.Equal(t, http.StatusOK, responses[1].status)
	assert.True(t, strings.HasPrefix(responses[1].body, "GET /next HTTP/1.1\r\n"))
}

func TestHandle_ExpectContinue(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t)})
	raw := "PUT /doc HTTP/1.1\r\nHost: echo.test\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\nbody"

	out := exchange(t, ch, raw)
	require.True(t, bytes.HasPrefix(out, []byte("HTTP/1.1 100 Continue\r\n\r\n")))

	responses := readResponses(t, bytes.TrimPrefix(out, []byte("HTTP/1.1 100 Continue\r\n\r\n")))
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusOK, responses[0].status)
	assert.True(t, strings.HasSuffix(responses[0].body, "body"))
}

func TestHandle_Head(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t)})
	raw := "HEAD /x HTTP/1.1\r\nHost: echo.test\r\n\r\nGET /y HTTP/1.1\r\nHost: echo.test\r\n\r\n"

	responses := readResponses(t, exchange(t, ch, raw), http.MethodHead, http.MethodGet)
	require.Len(t, responses, 2)
	assert.Empty(t, responses[0].body)
	assert.Greater(t, responses[0].contentLength, int64(0))
	assert.True(t, strings.HasPrefix(responses[1].body, "GET /y HTTP/1.1\r\n"))
}

func TestHandle_RoutingByHost(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status int
		close  bool
	}{
		{"unknown host uses fallback", "GET / HTTP/1.1\r\nHost: nowhere.test\r\n\r\n", http.StatusNotFound, false},
		{"host is case-insensitive", "GET / HTTP/1.1\r\nHost: PING.Test:8080\r\n\r\n", http.StatusOK, false},
		{"absolute form overrides host", "GET http://ping.test/ HTTP/1.1\r\nHost: nowhere.test\r\n\r\n", http.StatusOK, false},
		{"HTTP/1.0 without host uses fallback", "GET / HTTP/1.0\r\n\r\n", http.StatusNotFound, true},
		{"handler error", "GET / HTTP/1.1\r\nHost: broken.test\r\n\r\n", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newConnHandler(Options{Registry: testRegistry(t)})
			responses := readResponses(t, exchange(t, ch, tt.raw))
			require.Len(t, responses, 1)
			assert.Equal(t, tt.status, responses[0].status)
			assert.Equal(t, tt.close, responses[0].close)
		})
	}
}

func TestHandle_AccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	al := accesslog.New(zap.New(core), 16, nil)
	ch := newConnHandler(Options{Registry: testRegistry(t), AccessLog: al})

	raw := "GET /a HTTP/1.1\r\nHost: ping.test\r\nUser-Agent: test/1\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: ping.test\r\n\r\n" +
		"GET /c HTTP/1.1\r\n\r\n"
	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 3)
	al.Close()

	entries := logs.All()
	require.Len(t, entries, 3)
	first := entries[0].ContextMap()
	assert.Equal(t, "/a", first["target"])
	assert.Equal(t, "test/1", first["user_agent"])
	assert.Equal(t, "ping.test", first["host"])
	second := entries[1].ContextMap()
	assert.Equal(t, "/b", second["target"])
	_, hasUA := second["user_agent"]
	assert.False(t, hasUA)
	assert.Equal(t, int64(http.StatusBadRequest), entries[2].ContextMap()["status"])
}

func TestHandle_IdleTimeout(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t), IdleTimeout: 50 * time.Millisecond})
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		ch.Handle(server, false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestHandle_BodyTimeout(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status int
	}{
		{
			name:   "unread body is drained under a deadline",
			raw:    "POST / HTTP/1.1\r\nHost: nowhere.test\r\nContent-Length: 1000\r\n\r\n",
			status: http.StatusNotFound,
		},
		{
			name: "handler reading a stalled body",
			raw:  "POST / HTTP/1.1\r\nHost: echo.test\r\nContent-Length: 1000\r\n\r\npartial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newConnHandler(Options{Registry: testRegistry(t), IdleTimeout: 200 * time.Millisecond})

			listener, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			defer listener.Close()

			done := make(chan struct{})
			go func() {
				defer close(done)
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				ch.Handle(conn, false)
			}()

			conn, err := net.Dial("tcp", listener.Addr().String())
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

			_, err = conn.Write([]byte(tt.raw))
			require.NoError(t, err)

			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatal("connection with a stalled body was not closed")
			}

			out, err := io.ReadAll(conn)
			require.NoError(t, err)
			if tt.status == 0 {
				return
			}
			responses := readResponses(t, out)
			require.Len(t, responses, 1)
			assert.Equal(t, tt.status, responses[0].status)
		})
	}
}

func TestHandle_EchoBodyTooLarge(t *testing.T) {
	ch := newConnHandler(Options{Registry: testRegistry(t)})
	raw := "POST / HTTP/1.1\r\nHost: echo.test\r\nContent-Length: 2000000\r\n\r\n"

	responses := readResponses(t, exchange(t, ch, raw))
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusRequestEntityTooLarge, responses[0].status)
	assert.True(t, responses[0].close)
}

func TestHandle_ImplicitNoContent(t *testing.T) {
	reg := testRegistry(t)
	require.True(t, reg.Register("silent.test", registry.HandlerFunc(
		func(*response.Writer, *request.Request, io.Reader) error { return nil })))
	ch := newConnHandler(Options{Registry: reg})
	raw := "GET / HTTP/1.1\r\nHost: silent.test\r\n\r\nGET / HTTP/1.1\r\nHost: ping.test\r\n\r\n"

	out := exchange(t, ch, raw)
	head, _, found := bytes.Cut(out, []byte("\r\n\r\n"))
	require.True(t, found)
	assert.NotContains(t, string(head), "Content-Length")

	responses := readResponses(t, out)
	require.Len(t, responses, 2)
	assert.Equal(t, http.StatusNoContent, responses[0].status)
	assert.Equal(t, http.StatusOK, responses[1].status)
}
