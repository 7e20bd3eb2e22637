package transport

import (
	"crypto/tls"
	"net"

	"go.uber.org/zap"
)

type https struct {
	port      string
	tlsConfig *tls.Config
	handler   HTTP
	logger    *zap.Logger
}

func NewHTTPSServer(port string, tlsConfig *tls.Config, opts Options) Transport {
	h := newConnHandler(opts)
	return &https{
		port:      port,
		tlsConfig: tlsConfig,
		handler:   h,
		logger:    h.logger,
	}
}

func (ht *https) Listen() (net.Listener, error) {
	return tls.Listen("tcp", ":"+ht.port, ht.tlsConfig)
}

func (ht *https) Serve(listener net.Listener) error {
	ht.logger.Info("HTTPS server is starting", zap.String("port", ht.port))
	return serve(listener, ht.handler, true, ht.logger)
}
