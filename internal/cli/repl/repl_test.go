package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"compilebox/internal/cli/command"
	httpclient "compilebox/internal/cli/http"
)

func newSession(t *testing.T, handler http.HandlerFunc, pretty bool) (*Session, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	out := &bytes.Buffer{}
	return New(httpclient.New(srv.URL, time.Second), command.Registry(), pretty, out), out
}

func TestExecCompileCode(t *testing.T) {
	var got map[string]interface{}
	s, out := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &got)
		_, _ = w.Write([]byte(`{"success":true,"output":"Hello, World!","error":"","exitCode":0,"executionTime":12,"memoryUsed":1024}`))
	}, false)

	err := s.Exec(context.Background(), `compile code "public class Hello { public static void main(String[] a) { System.out.println(\"Hello, World!\"); } }"`)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(got["code"].(string), "public class Hello") {
		t.Fatalf("unexpected request body: %v", got)
	}
	text := out.String()
	if !strings.Contains(text, "HTTP 200") || !strings.Contains(text, "status: ok, exit 0") || !strings.Contains(text, "Hello, World!") {
		t.Fatalf("unexpected output: %s", text)
	}
}

func TestExecCompileFailureSummary(t *testing.T) {
	s, out := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"output":"","error":"Main.java:1: error: ';' expected","exitCode":1}`))
	}, true)
	if err := s.Exec(context.Background(), `compile code "class Main { int x }"`); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out.String(), "status: failed, exit 1") || !strings.Contains(out.String(), "\"exitCode\": 1") {
		t.Fatalf("expected summary and pretty json, got %s", out.String())
	}
}

func TestExecHealthAndVersion(t *testing.T) {
	var paths []string
	s, out := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}, false)
	for _, line := range []string{"compile health", "compile version"} {
		if err := s.Exec(context.Background(), line); err != nil {
			t.Fatalf("%s: %v", line, err)
		}
	}
	if len(paths) != 2 || paths[0] != "/api/health" || paths[1] != "/api/version" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	if !strings.Contains(out.String(), `{"status":"OK"}`) {
		t.Fatalf("expected raw body, got %s", out.String())
	}
}

func TestExecSystemCommands(t *testing.T) {
	s, out := newSession(t, func(w http.ResponseWriter, r *http.Request) {}, false)
	if err := s.Exec(context.Background(), "exit"); !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
	_ = s.Exec(context.Background(), "help")
	if !strings.Contains(out.String(), "compile run file=") {
		t.Fatalf("expected help to list commands, got %s", out.String())
	}
	_ = s.Exec(context.Background(), "set base http://box:3000")
	_ = s.Exec(context.Background(), "show config")
	if !strings.Contains(out.String(), "base: http://box:3000") {
		t.Fatalf("expected base to change, got %s", out.String())
	}
}

func TestExecErrors(t *testing.T) {
	s, _ := newSession(t, func(w http.ResponseWriter, r *http.Request) {}, false)
	for _, line := range []string{"compile", "compile nope", `compile code "unterminated`, "compile run"} {
		if err := s.Exec(context.Background(), line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}
