package middleware

import (
	"httpgate/internal/http/header"
	"httpgate/internal/version"
)

type ServerFingerprint struct {
	token string
}

func NewServerFingerprint() *ServerFingerprint {
	return &ServerFingerprint{token: version.ServerToken()}
}

func (h *ServerFingerprint) HandleResponse(headers *header.Headers, body []byte) error {
	headers.Overwrite("Server", h.token)
	return nil
}
