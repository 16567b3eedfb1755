package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanFetch_DisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	c := NewChecker(srv.Client(), "scoutline-test", 0)
	c.AllowPrivateHosts = true

	if c.CanFetch(context.Background(), "scoutline-test", srv.URL+"/private/page") {
		t.Error("expected /private/page to be disallowed")
	}
	if !c.CanFetch(context.Background(), "scoutline-test", srv.URL+"/public/page") {
		t.Error("expected /public/page to be allowed")
	}
}

func TestCanFetch_FailOpenOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewChecker(srv.Client(), "scoutline-test", 0)
	c.AllowPrivateHosts = true

	if !c.CanFetch(context.Background(), "scoutline-test", srv.URL+"/anything") {
		t.Error("missing robots.txt should fail open (allow)")
	}
}

func TestCanFetch_FailOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker(srv.Client(), "scoutline-test", 0)
	c.AllowPrivateHosts = true

	if !c.CanFetch(context.Background(), "scoutline-test", srv.URL+"/x") {
		t.Error("5xx robots.txt should fail open (allow)")
	}
}

func TestCanFetch_CachesAfterFirstQuery(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("User-agent: *\nDisallow: /blocked\n"))
	}))
	defer srv.Close()

	c := NewChecker(srv.Client(), "scoutline-test", 0)
	c.AllowPrivateHosts = true

	for i := 0; i < 5; i++ {
		c.CanFetch(context.Background(), "scoutline-test", srv.URL+"/blocked")
	}
	if hits != 1 {
		t.Errorf("expected exactly 1 robots.txt fetch, got %d", hits)
	}
}

func TestCanFetch_RejectsUnparsableURL(t *testing.T) {
	c := NewChecker(nil, "scoutline-test", 0)
	if c.CanFetch(context.Background(), "scoutline-test", "not a url") {
		t.Error("unparsable URL should be denied")
	}
}
