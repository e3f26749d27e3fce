package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/7/12" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"success": true,
			"data": {
				"vostfr": {"videoUri": "http://cdn.example.com/master.m3u8", "url_image": "http://cdn.example.com/thumb.jpg"},
				"vf": {"videoUri": "http://cdn.example.com/vf.m3u8", "url_image": "http://cdn.example.com/thumb.jpg"}
			}
		}`)
	}))
	defer server.Close()

	resolver := NewAPIResolver(server.URL, server.Client())
	source, err := resolver.Resolve(context.Background(), 7, 12, "vostfr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.URL != "http://cdn.example.com/master.m3u8" {
		t.Fatalf("unexpected source url: %s", source.URL)
	}
	if source.ImageURL != "http://cdn.example.com/thumb.jpg" {
		t.Fatalf("unexpected image url: %s", source.ImageURL)
	}
}

func TestResolveMissingLang(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": true, "data": {"vf": {"videoUri": "http://cdn.example.com/vf.m3u8", "url_image": ""}}}`)
	}))
	defer server.Close()

	resolver := NewAPIResolver(server.URL, server.Client())
	_, err := resolver.Resolve(context.Background(), 7, 12, "vostfr")

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_AVAILABLE" {
		t.Fatalf("expected NOT_AVAILABLE, got %v", err)
	}
}

func TestResolveUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "message": "not found"}`)
	}))
	defer server.Close()

	resolver := NewAPIResolver(server.URL, server.Client())
	_, err := resolver.Resolve(context.Background(), 999, 1, "vostfr")

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_AVAILABLE" {
		t.Fatalf("expected NOT_AVAILABLE, got %v", err)
	}
}

func TestResolveBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer server.Close()

	resolver := NewAPIResolver(server.URL, server.Client())
	_, err := resolver.Resolve(context.Background(), 1, 1, "vostfr")

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "UPSTREAM_ERROR" {
		t.Fatalf("expected UPSTREAM_ERROR, got %v", err)
	}
}

func TestResolveTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	resolver := NewAPIResolver(server.URL, nil)
	_, err := resolver.Resolve(context.Background(), 1, 1, "vostfr")

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != "UPSTREAM_ERROR" {
		t.Fatalf("expected UPSTREAM_ERROR, got %v", err)
	}
}
