package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"httpgate/internal/http/request"
	"httpgate/types"
)

var (
	ErrMalformed      = errors.New("malformed request")
	ErrHeaderTooLarge = errors.New("request header too large")
	ErrUnknownMethod  = errors.New("unknown method")
)

const DefaultMaxHeaderBytes = 64 << 10

type Parser struct {
	maxHeaderBytes int
}

func New(maxHeaderBytes int) *Parser {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &Parser{maxHeaderBytes: maxHeaderBytes}
}

// Parse reads one request head from src, a []byte or a *bufio.Reader,
// into req. Header pairs are inserted in arrival order.
func (p *Parser) Parse(src interface{}, req *request.Request) error {
	switch v := src.(type) {
	case []byte:
		return p.Read(bufio.NewReader(bytes.NewReader(v)), req)
	case *bufio.Reader:
		return p.Read(v, req)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
}

// Read returns io.EOF when the peer closed the connection before sending
// anything. On ErrUnknownMethod the version and target are still filled
// in so the caller can answer.
func (p *Parser) Read(br *bufio.Reader, req *request.Request) error {
	budget := p.maxHeaderBytes

	var line []byte
	var err error
	for {
		line, err = readLine(br, &budget)
		if err != nil {
			return err
		}
		// Empty lines ahead of the request line are tolerated.
		if len(line) > 0 {
			break
		}
	}

	method, target, version, err := parseStartLine(line)
	if err != nil {
		return err
	}
	req.MethodStr = method
	req.Method = types.ParseMethod(method)
	req.URI.Raw = target
	req.Version = types.ParseVersion(version)

	for {
		line, err = readLine(br, &budget)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if len(line) == 0 {
			break
		}
		if err = insertHeader(line, req); err != nil {
			return err
		}
	}

	if req.Method == types.MethodUnset {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return nil
}

func readLine(br *bufio.Reader, budget *int) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	*budget -= len(line)
	if *budget < 0 {
		return nil, ErrHeaderTooLarge
	}
	if err != nil {
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return nil, ErrHeaderTooLarge
		case errors.Is(err, io.EOF) && len(line) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

func parseStartLine(startLine []byte) (method, target, version string, err error) {
	firstSpace := bytes.IndexByte(startLine, ' ')
	if firstSpace <= 0 {
		return "", "", "", fmt.Errorf("%w: invalid start line: missing method", ErrMalformed)
	}

	secondSpace := bytes.IndexByte(startLine[firstSpace+1:], ' ')
	if secondSpace == -1 {
		return "", "", "", fmt.Errorf("%w: invalid start line: missing version", ErrMalformed)
	}
	secondSpace += firstSpace + 1

	method = string(startLine[:firstSpace])
	target = string(startLine[firstSpace+1 : secondSpace])
	version = string(startLine[secondSpace+1:])

	return method, target, version, nil
}

func insertHeader(line []byte, req *request.Request) error {
	if line[0] == ' ' || line[0] == '\t' {
		return fmt.Errorf("%w: obsolete line folding", ErrMalformed)
	}

	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx <= 0 {
		return fmt.Errorf("%w: header line without name", ErrMalformed)
	}

	key := line[:colonIdx]
	if bytes.ContainsAny(key, " \t") {
		return fmt.Errorf("%w: whitespace in header name %q", ErrMalformed, key)
	}
	value := bytes.Trim(line[colonIdx+1:], " \t")

	req.Headers.Insert(string(key), string(value))
	return nil
}
