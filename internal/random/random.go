package random

import (
	"crypto/rand"
	"errors"
	"io"
)

var (
	ErrInvalidLength = errors.New("invalid length")
)

const hexDigits = "0123456789abcdef"

type Random interface {
	String(length int) (string, error)
}

type random struct {
	reader io.Reader
}

func New() Random {
	return &random{reader: rand.Reader}
}

// String returns length lower-case hex digits.
func (ran *random) String(length int) (string, error) {
	if length < 0 {
		return "", ErrInvalidLength
	}
	b := make([]byte, length)

	if _, err := io.ReadFull(ran.reader, b); err != nil {
		return "", err
	}

	for i := range b {
		b[i] = hexDigits[b[i]&0x0f]
	}

	return string(b), nil
}
