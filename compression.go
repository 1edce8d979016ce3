package fetchup

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// BrotliMiddleware asks for brotli-encoded responses and decodes them, so
// the body streamed to the fetch and stored in caches is the plain payload.
// Requests that already set Accept-Encoding are passed through untouched.
func BrotliMiddleware() Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if req.Header.Get("Accept-Encoding") != "" {
			return next.RoundTrip(req)
		}

		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br")

		resp, err := next.RoundTrip(req)
		if err != nil || resp == nil {
			return resp, err
		}
		if resp.Header.Get("Content-Encoding") != "br" {
			return resp, nil
		}

		resp.Body = &brotliBody{Reader: brotli.NewReader(resp.Body), raw: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
		return resp, nil
	}
}

type brotliBody struct {
	io.Reader
	raw io.Closer
}

func (b *brotliBody) Close() error {
	return b.raw.Close()
}

// WithBrotli decodes brotli responses on the default transport.
func WithBrotli() Option {
	return WithMiddleware(BrotliMiddleware())
}
