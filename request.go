package fetchup

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CharacterSet is the set of bytes left unescaped in query keys and values.
// The zero value allows nothing, so every byte is percent-encoded.
type CharacterSet struct {
	bits [4]uint64
}

// NewCharacterSet returns a set holding the bytes of chars.
func NewCharacterSet(chars string) CharacterSet {
	var cs CharacterSet
	for i := 0; i < len(chars); i++ {
		cs.add(chars[i])
	}
	return cs
}

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	// UnreservedCharacters is the RFC 3986 unreserved set, the default.
	UnreservedCharacters = NewCharacterSet(alphanumerics + "-._~")

	// URLQueryAllowed additionally keeps sub-delimiters and ":@/?" literal,
	// except for the '&', '=' and '+' separators.
	URLQueryAllowed = NewCharacterSet(alphanumerics + "-._~" + "!$'()*,;" + ":@/?")
)

func (cs *CharacterSet) add(b byte) {
	cs.bits[b>>6] |= 1 << (b & 63)
}

// Contains reports whether b is left unescaped.
func (cs CharacterSet) Contains(b byte) bool {
	return cs.bits[b>>6]&(1<<(b&63)) != 0
}

// Union returns a set holding the bytes of both sets.
func (cs CharacterSet) Union(other CharacterSet) CharacterSet {
	for i := range cs.bits {
		cs.bits[i] |= other.bits[i]
	}
	return cs
}

const upperhex = "0123456789ABCDEF"

// Escape percent-encodes every byte of s outside the set.
func (cs CharacterSet) Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !cs.Contains(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if cs.Contains(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// BuildURL resolves path against base using RFC 3986 reference resolution and
// appends params as a query. A relative path replaces the last segment of the
// base path unless the base path ends in '/'; an absolute path replaces the
// whole base path. Params are encoded key by key against allowed, sorted by
// key, and appended after any query already present in path.
func BuildURL(base *url.URL, path string, params map[string]string, allowed CharacterSet) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}

	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}

	if len(params) == 0 {
		return u, nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var query strings.Builder
	query.WriteString(u.RawQuery)
	for _, k := range keys {
		if query.Len() > 0 {
			query.WriteByte('&')
		}
		query.WriteString(allowed.Escape(k))
		query.WriteByte('=')
		query.WriteString(allowed.Escape(params[k]))
	}
	u.RawQuery = query.String()

	return u, nil
}

// NewRequest builds the wire request for d without sending it. Client default
// headers are applied first, then the resource's own headers, then the
// resource's Configure hook.
func (c *Client) NewRequest(ctx context.Context, d Describer) (*http.Request, error) {
	desc := d.Describe()

	method := desc.Method
	if method == "" {
		method = MethodGet
	}

	u, err := BuildURL(c.baseURL, desc.Path, desc.Query, c.allowedCharacters)
	if err != nil {
		return nil, &ClientError{
			Type:    ErrorTypeRequest,
			Message: "invalid resource path",
			Cause:   err,
			Method:  method,
			URL:     desc.Path,
		}
	}

	var body io.Reader
	if desc.Body != nil {
		body = bytes.NewReader(desc.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &ClientError{
			Type:    ErrorTypeRequest,
			Message: "failed to build request",
			Cause:   err,
			Method:  method,
			URL:     u.String(),
		}
	}

	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for key, value := range desc.Header {
		req.Header.Set(key, value)
	}

	if desc.Configure != nil {
		desc.Configure(req)
	}

	return req, nil
}

// cloneRequest deep-copies req. A body without GetBody is buffered first so
// req and the clone each get their own reader; req gains a GetBody.
func cloneRequest(req *http.Request) *http.Request {
	if req.GetBody == nil && req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err == nil {
			req.Body = io.NopCloser(bytes.NewReader(data))
			req.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
		}
	}

	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
		}
	}
	return clone
}

func readRequestBody(req *http.Request) ([]byte, error) {
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, err
}

func getEndpointFromRequest(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
