package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rentradar/internal/domain"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "rentradar/") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte("<html>listing</html>"))
	}))
	defer srv.Close()

	f := New(5*time.Second, 1<<20)
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>listing</html>" {
		t.Errorf("body: got %q", body)
	}
}

func TestFetchCapsBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer srv.Close()

	f := New(5*time.Second, 100)
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(body) != 100 {
		t.Errorf("body length: got %d, want 100", len(body))
	}
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(5*time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.Classify(err) != domain.KindFetch {
		t.Errorf("kind: got %s, want fetch_error", domain.Classify(err))
	}
}

func TestFetchConnectionFailureIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	f := New(time.Second, 1<<20)
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.Classify(err) != domain.KindFetch {
		t.Errorf("kind: got %s, want fetch_error", domain.Classify(err))
	}
}
