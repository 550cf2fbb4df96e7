package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"tigerWMS_ACS2021"}`))
	}))
	defer ts.Close()

	var out struct {
		Name string `json:"name"`
	}
	if err := New(time.Second).GetJSON(context.Background(), ts.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Name != "tigerWMS_ACS2021" {
		t.Errorf("Name = %q", out.Name)
	}
}

func TestGetBytesTooLarge(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte("0123456789"))
	}))
	defer ts.Close()

	c := New(time.Second).WithRetry(Retry{Attempts: 3})
	c.MaxBody = 10
	b, err := c.GetBytes(context.Background(), ts.URL)
	if err != nil || string(b) != "0123456789" {
		t.Fatalf("GetBytes at limit = %q, %v", b, err)
	}

	c.MaxBody = 9
	attempts = 0
	b, err = c.GetBytes(context.Background(), ts.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
	if b != nil {
		t.Errorf("body = %q, want nil", b)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, oversized body must not be retried", attempts)
	}
}

func TestNoRetryByDefault(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(time.Second).GetBytes(context.Background(), ts.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("err = %v, want StatusError 502", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := New(time.Second).WithRetry(Retry{Attempts: 3, Backoff: time.Millisecond})
	body, err := c.GetBytes(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("GetBytes with retries: %v", err)
	}
	if string(body) != "ok" || attempts != 3 {
		t.Errorf("body = %q attempts = %d", body, attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(time.Second).WithRetry(Retry{Attempts: 2, Backoff: time.Millisecond})
	if _, err := c.GetBytes(context.Background(), ts.URL); err == nil {
		t.Error("expected error after all retries exhausted")
	}
}

func TestDownload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("shapefile bytes"))
	}))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "tl_2020_us_county.zip")
	if err := New(time.Second).WithRate(100).Download(context.Background(), ts.URL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "shapefile bytes" {
		t.Errorf("content = %q", data)
	}
}
