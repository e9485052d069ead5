package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDo(t *testing.T) {
	var gotBody, gotType, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotType = r.Header.Get("Content-Type")
		gotTrace = r.Header.Get("X-Trace-Id")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	resp, err := c.Do(context.Background(), http.MethodPost, "/api/compile", map[string]string{"X-Trace-Id": "t1"}, []byte(`{"code":"x"}`))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusTeapot || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
	if gotBody != `{"code":"x"}` || gotType != "application/json" || gotTrace != "t1" {
		t.Fatalf("unexpected request: body=%s type=%s trace=%s", gotBody, gotType, gotTrace)
	}
}

func TestDoConnectionError(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := c.Do(context.Background(), http.MethodGet, "/api/health", nil, nil); err == nil {
		t.Fatalf("expected connection error")
	}
}
