// Package uri parses request targets and authorities and normalizes
// request paths before routing.
package uri

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmptyTarget       = errors.New("empty request target")
	ErrMalformedTarget   = errors.New("malformed request target")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrBadEscape         = errors.New("invalid percent encoding")
	ErrNulByte           = errors.New("decoded path contains NUL")
	ErrInvalidHost       = errors.New("invalid host")
	ErrInvalidPort       = errors.New("invalid port")
)

// Target is a request target split into its components. Path is still
// percent-encoded.
type Target struct {
	Scheme    string
	Authority string
	Path      string
	Query     string
}

// Parser bundles the package functions behind the interfaces the request
// validator consumes.
type Parser struct{}

func (Parser) Parse(raw string) (Target, error) {
	return ParseRaw(raw)
}

func (Parser) Normalize(p string) (string, error) {
	decoded, err := Decode(p)
	if err != nil {
		return "", err
	}
	return Simplify(decoded), nil
}

func (Parser) ParseHost(authority string) (string, error) {
	return ParseHost(authority)
}

// ParseRaw accepts origin-form ("/p?q"), asterisk-form ("*") and
// absolute-form ("http://host/p?q") targets.
func ParseRaw(raw string) (Target, error) {
	if raw == "" {
		return Target{}, ErrEmptyTarget
	}
	if raw == "*" {
		return Target{Path: "*"}, nil
	}

	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrMalformedTarget, err)
	}
	if u.Opaque != "" || u.User != nil {
		return Target{}, ErrMalformedTarget
	}

	t := Target{
		Scheme: strings.ToLower(u.Scheme),
		Path:   u.EscapedPath(),
		Query:  u.RawQuery,
	}
	if t.Scheme != "" {
		if t.Scheme != "http" && t.Scheme != "https" {
			return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
		}
		if u.Host == "" {
			return Target{}, ErrMalformedTarget
		}
		t.Authority = u.Host
	}
	if t.Path == "" {
		t.Path = "/"
	}
	return t, nil
}

func Decode(p string) (string, error) {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEscape, err)
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return "", ErrNulByte
	}
	return decoded, nil
}

// Simplify collapses repeated separators and "." / ".." segments. The
// result is always rooted and never climbs above "/". A trailing slash
// survives.
func Simplify(p string) string {
	if p == "" || p == "*" {
		return p
	}
	trailing := strings.HasSuffix(p, "/") ||
		strings.HasSuffix(p, "/.") ||
		strings.HasSuffix(p, "/..")
	if p[0] != '/' {
		p = "/" + p
	}
	out := path.Clean(p)
	if trailing && out != "/" {
		out += "/"
	}
	return out
}

// ParseHost extracts the lower-cased host name from an authority of the
// form host[:port] or [ipv6][:port]. An empty authority yields an empty
// host.
func ParseHost(authority string) (string, error) {
	if authority == "" {
		return "", nil
	}

	if authority[0] == '[' {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", ErrInvalidHost
		}
		literal, rest := authority[1:end], authority[end+1:]
		if rest != "" {
			if rest[0] != ':' {
				return "", ErrInvalidHost
			}
			if err := checkPort(rest[1:]); err != nil {
				return "", err
			}
		}
		addr, err := netip.ParseAddr(literal)
		if err != nil || !addr.Is6() {
			return "", fmt.Errorf("%w: %q", ErrInvalidHost, literal)
		}
		return "[" + strings.ToLower(literal) + "]", nil
	}

	host := authority
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		if err := checkPort(authority[i+1:]); err != nil {
			return "", err
		}
		host = authority[:i]
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", ErrInvalidHost
	}

	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidHost, err)
		}
		host = ascii
	}
	host = strings.ToLower(host)
	if !validHostname(host) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return host, nil
}

// An empty port is allowed, as in "example.com:".
func checkPort(port string) error {
	if port == "" {
		return nil
	}
	if len(port) > 5 {
		return ErrInvalidPort
	}
	n := 0
	for i := 0; i < len(port); i++ {
		c := port[i]
		if c < '0' || c > '9' {
			return ErrInvalidPort
		}
		n = n*10 + int(c-'0')
	}
	if n < 1 || n > 65535 {
		return ErrInvalidPort
	}
	return nil
}

func validHostname(host string) bool {
	label := 0
	for i := 0; i < len(host); i++ {
		c := host[i]
		switch {
		case c == '.':
			if label == 0 {
				return false
			}
			label = 0
			continue
		case 'a' <= c && c <= 'z', '0' <= c && c <= '9', c == '-', c == '_':
		default:
			return false
		}
		label++
		if label > 63 {
			return false
		}
	}
	return label > 0
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
