package subtitleclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostSubtitle_DecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"request_id":"r1","wrapped":"hi\nthere","visible_chars":7,"show_s":1.5}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	resp, err := c.PostSubtitle(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("PostSubtitle: %v", err)
	}
	if resp.RequestID != "r1" || resp.VisibleChars != 7 || resp.ShowS != 1.5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPostSubtitle_RejectsOkFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if _, err := c.PostSubtitle(context.Background(), "hi"); err == nil {
		t.Fatal("expected an error for ok=false")
	}
}

func TestPostSubtitle_RejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if _, err := c.PostSubtitle(context.Background(), "hi"); err == nil {
		t.Fatal("expected an error for a 500 status")
	}
}
