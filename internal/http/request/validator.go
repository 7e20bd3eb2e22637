package request

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"httpgate/internal/http/uri"
	"httpgate/types"

	"go.uber.org/zap"
)

type URLParser interface {
	Parse(raw string) (uri.Target, error)
	// Normalize percent-decodes and simplifies a path.
	Normalize(path string) (string, error)
}

type HostParser interface {
	ParseHost(authority string) (string, error)
}

type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictRejected
)

// Outcome is the single result of validating one request. A rejected
// outcome never keeps the connection alive.
type Outcome struct {
	Verdict   Verdict
	Status    int
	KeepAlive bool
	Reason    error
}

func (o Outcome) Accepted() bool {
	return o.Verdict == VerdictAccepted
}

type Validator struct {
	urls   URLParser
	hosts  HostParser
	logger *zap.Logger
}

func NewValidator(urls URLParser, hosts HostParser, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{urls: urls, hosts: hosts, logger: logger}
}

type validation struct {
	req       *Request
	keepAlive bool
}

type check func(v *Validator, st *validation) *Rejection

// Later checks rely on earlier ones having passed.
var pipeline = []check{
	checkVersion,
	checkRawURI,
	checkHostHeader,
	checkHostRequired,
	checkURL,
	checkContentLength,
	checkExpect,
	checkMethodLength,
}

// Validate runs the ordered request checks and stops at the first
// rejection. The request's URI, ContentLength and Expect100Continue
// fields are filled in along the way.
func (v *Validator) Validate(req *Request) Outcome {
	st := &validation{req: req}
	for _, c := range pipeline {
		if rej := c(v, st); rej != nil {
			v.logger.Debug("request rejected",
				zap.Int("status", rej.code),
				zap.String("method", req.MethodStr),
				zap.String("uri", req.URI.Raw),
				zap.Error(rej.err),
			)
			return Outcome{Verdict: VerdictRejected, Status: rej.code, Reason: rej}
		}
	}
	return Outcome{Verdict: VerdictAccepted, Status: http.StatusOK, KeepAlive: st.keepAlive}
}

func checkVersion(_ *Validator, st *validation) *Rejection {
	h := st.req.Headers
	switch st.req.Version {
	case types.Version10:
		st.keepAlive = h.HasToken("Connection", "keep-alive")
	case types.Version11:
		st.keepAlive = !h.HasToken("Connection", "close")
	default:
		return reject(http.StatusHTTPVersionNotSupported, ErrVersionNotSupported)
	}
	return nil
}

func checkRawURI(_ *Validator, st *validation) *Rejection {
	if st.req.URI.Raw == "" {
		return reject(http.StatusBadRequest, ErrEmptyURI)
	}
	return nil
}

// A repeated Host is ambiguous and gets rejected even when the values
// agree.
func checkHostHeader(v *Validator, st *validation) *Rejection {
	h := st.req.Headers
	c := h.FindFirst("Host")
	if !c.Valid() {
		return nil
	}
	if h.FindNext(c, "Host").Valid() {
		return reject(http.StatusBadRequest, ErrDuplicateHost)
	}

	st.req.URI.Authority = c.Entry().Value()
	host, err := v.hosts.ParseHost(st.req.URI.Authority)
	if err != nil {
		return reject(http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidHost, err))
	}
	st.req.URI.Host = host
	return nil
}

func checkHostRequired(_ *Validator, st *validation) *Rejection {
	if st.req.URI.Host == "" && st.req.Version == types.Version11 {
		return reject(http.StatusBadRequest, ErrMissingHost)
	}
	return nil
}

// An absolute-form target overrides the authority taken from Host.
func checkURL(v *Validator, st *validation) *Rejection {
	req := st.req
	target, err := v.urls.Parse(req.URI.Raw)
	if err != nil {
		return reject(http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidTarget, err))
	}
	if target.Path == "*" && req.Method != types.MethodOPTIONS {
		return reject(http.StatusBadRequest, ErrAsteriskTarget)
	}

	req.URI.Scheme = target.Scheme
	req.URI.Query = target.Query
	if target.Authority != "" {
		host, err := v.hosts.ParseHost(target.Authority)
		if err != nil {
			return reject(http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidHost, err))
		}
		req.URI.Authority = target.Authority
		req.URI.Host = host
	}

	if target.Path == "*" {
		req.URI.Path = target.Path
		return nil
	}
	p, err := v.urls.Normalize(target.Path)
	if err != nil {
		return reject(http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidTarget, err))
	}
	req.URI.Path = p
	return nil
}

func checkContentLength(_ *Validator, st *validation) *Rejection {
	h := st.req.Headers
	c := h.FindFirst("Content-Length")
	if !c.Valid() {
		return nil
	}
	value := c.Entry().Value()
	// Differing lengths would let a proxy and this server disagree on
	// where the body ends.
	for c = h.FindNext(c, "Content-Length"); c.Valid(); c = h.FindNext(c, "Content-Length") {
		if c.Entry().Value() != value {
			return reject(http.StatusBadRequest, ErrConflictingContentLength)
		}
	}
	n, err := parseContentLength(value)
	switch {
	case errors.Is(err, ErrContentLengthOverflow):
		return reject(http.StatusRequestEntityTooLarge, err)
	case err != nil:
		return reject(http.StatusBadRequest, err)
	}
	st.req.ContentLength = n
	return nil
}

// parseContentLength tells apart text that is not a number, a negative
// number and a number too large to represent.
func parseContentLength(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(s, "-") {
				return 0, ErrContentLengthNegative
			}
			return 0, ErrContentLengthOverflow
		}
		return 0, ErrContentLengthSyntax
	}
	if n < 0 {
		return 0, ErrContentLengthNegative
	}
	return n, nil
}

func checkExpect(_ *Validator, st *validation) *Rejection {
	h := st.req.Headers
	c := h.FindFirst("Expect")
	if !c.Valid() {
		return nil
	}

	pending := false
	for ; c.Valid(); c = h.FindNext(c, "Expect") {
		if !strings.EqualFold(c.Entry().Value(), "100-continue") {
			return reject(http.StatusExpectationFailed, ErrUnsupportedExpectation)
		}
		pending = true
	}
	if pending && st.req.Version == types.Version10 {
		return reject(http.StatusExpectationFailed, ErrExpectOnHTTP10)
	}
	st.req.Expect100Continue = pending
	return nil
}

func checkMethodLength(_ *Validator, st *validation) *Rejection {
	req := st.req
	switch req.Method {
	case types.MethodGET, types.MethodHEAD:
		if req.ContentLength > 0 {
			return reject(http.StatusBadRequest, ErrBodyNotAllowed)
		}
		req.ContentLength = 0
	case types.MethodPOST:
		if req.ContentLength == NoContentLength {
			return reject(http.StatusLengthRequired, ErrLengthRequired)
		}
	}
	return nil
}
