package fetchup

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
)

func TestBrotliMiddlewareDecodesBody(t *testing.T) {
	const payload = `{"message":"compressed"}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "br" {
			t.Errorf("Expected Accept-Encoding br, got %q", r.Header.Get("Accept-Encoding"))
		}
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		bw.Write([]byte(payload))
		bw.Close()

		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithBrotli())
	if !client.IsValid() {
		t.Fatalf("Expected valid client, got %v", client.ValidationError())
	}

	body, err := Fetch(context.Background(), client, Resource[string]{
		Descriptor: Descriptor{Path: "/data"},
		Decode:     String,
	}, CacheDisabled)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if body != payload {
		t.Errorf("Expected %s, got %s", payload, body)
	}
}

func TestBrotliMiddlewareKeepsExplicitEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Accept-Encoding")))
	}))
	defer server.Close()

	client := New(WithBaseURL(server.URL), WithBrotli())
	body, err := Fetch(context.Background(), client, Resource[string]{
		Descriptor: Descriptor{Path: "/", Header: map[string]string{"Accept-Encoding": "identity"}},
		Decode:     String,
	}, CacheDisabled)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if body != "identity" {
		t.Errorf("Expected identity, got %s", body)
	}
}
