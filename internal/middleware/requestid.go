package middleware

import (
	"fmt"

	"httpgate/internal/http/header"
	"httpgate/internal/random"
)

const requestIDLength = 16

type RequestID struct {
	randomizer random.Random
}

func NewRequestID(randomizer random.Random) *RequestID {
	return &RequestID{randomizer: randomizer}
}

// HandleRequest tags requests that arrive without an X-Request-Id.
func (rid *RequestID) HandleRequest(headers *header.Headers) error {
	if headers.FindFirst("X-Request-Id").Valid() {
		return nil
	}
	id, err := rid.randomizer.String(requestIDLength)
	if err != nil {
		return fmt.Errorf("generate request id: %w", err)
	}
	headers.Overwrite("X-Request-Id", id)
	return nil
}
