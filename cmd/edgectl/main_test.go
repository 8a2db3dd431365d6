package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetPrintsValueAndExitsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/object/k1" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-Covered-Hit", "local")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "get", "k1"}, &out, &errOut, strings.NewReader(""))

	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut.String())
	}
	if out.String() != "hello" {
		t.Fatalf("stdout = %q, want %q", out.String(), "hello")
	}
	if !strings.Contains(errOut.String(), "local") {
		t.Fatalf("expected hit kind in stderr, got %q", errOut.String())
	}
}

func TestGetMissingKeyExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "key not found", http.StatusNotFound)
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "get", "missing"}, &out, &errOut, strings.NewReader(""))
	if code == 0 {
		t.Fatal("expected non-zero exit for missing key")
	}
}

func TestPutSendsStdinAsBody(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/object/k1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		received = b
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "put", "k1"}, &out, &errOut, strings.NewReader("payload"))

	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut.String())
	}
	if string(received) != "payload" {
		t.Fatalf("server received %q, want %q", received, "payload")
	}
}

func TestDeleteSendsDeleteRequest(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := run([]string{"--addr", srv.URL, "del", "k1"}, &out, &errOut, strings.NewReader(""))

	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut.String())
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("method = %s, want DELETE", gotMethod)
	}
}

func TestUnknownCommandExitsWithUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"frobnicate", "k1"}, &out, &errOut, strings.NewReader(""))
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "unknown command") {
		t.Fatalf("stderr = %q, want mention of unknown command", errOut.String())
	}
}

func TestMissingArgsExitsWithUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"get"}, &out, &errOut, strings.NewReader(""))
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
