package transport

import (
	"errors"
	"net"

	"go.uber.org/zap"
)

type httpServer struct {
	handler HTTP
	port    string
	logger  *zap.Logger
}

func NewHTTPServer(port string, opts Options) Transport {
	h := newConnHandler(opts)
	return &httpServer{
		handler: h,
		port:    port,
		logger:  h.logger,
	}
}

func (ht *httpServer) Listen() (net.Listener, error) {
	return net.Listen("tcp", ":"+ht.port)
}

func (ht *httpServer) Serve(listener net.Listener) error {
	ht.logger.Info("HTTP server is starting", zap.String("port", ht.port))
	return serve(listener, ht.handler, false, ht.logger)
}

func serve(listener net.Listener, handler HTTP, isTLS bool, logger *zap.Logger) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("error accepting connection", zap.Error(err))
			continue
		}

		go handler.Handle(conn, isTLS)
	}
}
