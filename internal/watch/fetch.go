package watch

import (
	"net/http"
	"net/url"
	"time"
)

// FetchOptions carries per-request transport settings.
type FetchOptions struct {
	Headers            http.Header
	Proxy              string
	InsecureSkipVerify bool
	// Sink names a content store object that receives the body instead of the result.
	Sink string
}

// FetchRequest is one queued outbound request.
type FetchRequest struct {
	Method  string
	URL     string
	Options FetchOptions
}

// FetchResult is the outcome of one FetchRequest.
// Err holds a captured transport, size or sink failure; HTTP error statuses are
// not errors, but a sunk request with an error status stores nothing.
type FetchResult struct {
	Request    FetchRequest
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Err        error
}

// Failed reports whether the request did not produce a response.
func (r FetchResult) Failed() bool {
	return r.Err != nil
}

// CanonicalURL strips query and fragment from raw, keeping scheme, host and path.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host + u.EscapedPath()
}
