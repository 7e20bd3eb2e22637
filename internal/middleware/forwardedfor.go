package middleware

import (
	"net"

	"httpgate/internal/http/header"
)

type ForwardedFor struct {
	addr net.Addr
}

func NewForwardedFor(addr net.Addr) *ForwardedFor {
	return &ForwardedFor{addr: addr}
}

// HandleRequest adds the peer address to X-Forwarded-For, keeping any
// chain the client already sent.
func (ff *ForwardedFor) HandleRequest(headers *header.Headers) error {
	host, _, err := net.SplitHostPort(ff.addr.String())
	if err != nil {
		return err
	}
	headers.Append("X-Forwarded-For", host)
	return nil
}
