package registry

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"httpgate/internal/http/request"
	"httpgate/internal/http/response"
)

// Handler serves one accepted request. body yields exactly the bytes
// announced by Content-Length.
type Handler interface {
	ServeRequest(w *response.Writer, req *request.Request, body io.Reader) error
}

type HandlerFunc func(w *response.Writer, req *request.Request, body io.Reader) error

func (f HandlerFunc) ServeRequest(w *response.Writer, req *request.Request, body io.Reader) error {
	return f(w, req, body)
}

type Registry interface {
	Get(host string) (Handler, error)
	Register(host string, handler Handler) (success bool)
	Update(oldHost, newHost string) error
	Remove(host string)
	Hosts() []string
}

type registry struct {
	mu     sync.RWMutex
	byHost map[string]Handler
}

var (
	ErrHostNotFound  = fmt.Errorf("host not found")
	ErrHostInUse     = fmt.Errorf("host already in use")
	ErrHostUnchanged = fmt.Errorf("host is unchanged")
	ErrInvalidHost   = fmt.Errorf("invalid host")
)

func NewRegistry() Registry {
	return &registry{
		byHost: make(map[string]Handler),
	}
}

func (r *registry) Get(host string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byHost[canonicalHost(host)]
	if !ok {
		return nil, ErrHostNotFound
	}
	return h, nil
}

func (r *registry) Register(host string, handler Handler) (success bool) {
	key := canonicalHost(host)
	if key == "" || handler == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHost[key]; exists {
		return false
	}
	r.byHost[key] = handler
	return true
}

func (r *registry) Update(oldHost, newHost string) error {
	oldKey, newKey := canonicalHost(oldHost), canonicalHost(newHost)
	if newKey == "" {
		return ErrInvalidHost
	}
	if oldKey == newKey {
		return ErrHostUnchanged
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byHost[oldKey]
	if !ok {
		return ErrHostNotFound
	}
	if _, exists := r.byHost[newKey]; exists {
		return ErrHostInUse
	}

	delete(r.byHost, oldKey)
	r.byHost[newKey] = h
	return nil
}

func (r *registry) Remove(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byHost, canonicalHost(host))
}

func (r *registry) Hosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]string, 0, len(r.byHost))
	for h := range r.byHost {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	return hosts
}

func canonicalHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
