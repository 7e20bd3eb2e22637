package request

import (
	"httpgate/internal/http/header"
	"httpgate/types"
)

// NoContentLength marks a request that carried no Content-Length.
const NoContentLength int64 = -1

type URI struct {
	Raw       string
	Scheme    string
	Authority string
	Host      string
	Path      string
	Query     string
}

type Request struct {
	Method    types.Method
	MethodStr string
	Version   types.Version
	URI       URI

	Headers *header.Headers

	ContentLength     int64
	Expect100Continue bool
}

func New() *Request {
	return &Request{
		Headers:       header.New(),
		ContentLength: NoContentLength,
	}
}

// Reset prepares the request for the next one on a keep-alive
// connection. The header collection is reused when nobody else holds it;
// the result reports whether that happened.
func (r *Request) Reset() bool {
	prev := r.Headers
	r.Method = types.MethodUnset
	r.MethodStr = ""
	r.Version = types.VersionUnset
	r.URI = URI{}
	r.Headers = prev.TryReset()
	r.ContentLength = NoContentLength
	r.Expect100Continue = false
	return r.Headers == prev
}

// Clear drops the request's header reference once the connection is
// done. The request must not be used afterwards.
func (r *Request) Clear() {
	r.Method = types.MethodUnset
	r.MethodStr = ""
	r.Version = types.VersionUnset
	r.URI = URI{}
	header.Release(r.Headers)
	r.Headers = nil
	r.ContentLength = NoContentLength
	r.Expect100Continue = false
}
