package middleware

import (
	"httpgate/internal/http/header"
)

type RequestMiddleware interface {
	HandleRequest(headers *header.Headers) error
}

type ResponseMiddleware interface {
	HandleResponse(headers *header.Headers, body []byte) error
}
