package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	client := NewStandardClient(customClient)

	if client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}

	if NewStandardClient(nil).Client != http.DefaultClient {
		t.Error("expected nil to fall back to http.DefaultClient")
	}
}

func TestStandardClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pcd/list.json":
			w.Write([]byte(`["a.pcd"]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewStandardClient(server.Client())

	body, err := Fetch(context.Background(), client, server.URL+"/pcd/list.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != `["a.pcd"]` {
		t.Errorf("got body %q", body)
	}

	_, err = Fetch(context.Background(), client, server.URL+"/missing")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("Fetch(missing) error = %v, want StatusError 404", err)
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddRoute("/a.pcd", http.StatusOK, "data")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Fetch(ctx, mock, "http://example.com/a.pcd"); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch error = %v, want context.Canceled", err)
	}
}

func TestMockHTTPClient_Routes(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddRoute("/images/list.json", http.StatusOK, `["1.jpg"]`)
	mock.AddRoute("/pcd/list.json", http.StatusOK, `["1.pcd"]`)

	// Routes are order-independent and reusable.
	for _, path := range []string{"/pcd/list.json", "/images/list.json", "/pcd/list.json"} {
		resp, err := mock.Do(httptest.NewRequest(http.MethodGet, "http://example.com"+path, nil))
		if err != nil {
			t.Fatalf("Do(%s) failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "1.") {
			t.Errorf("Do(%s) body = %q", path, body)
		}
	}

	resp, err := mock.Do(httptest.NewRequest(http.MethodGet, "http://example.com/unknown", nil))
	if err != nil {
		t.Fatalf("Do(unknown) failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp.StatusCode)
	}
	if mock.RequestCount() != 4 {
		t.Errorf("got %d requests, want 4", mock.RequestCount())
	}
}

func TestMockHTTPClient_RouteError(t *testing.T) {
	mock := NewMockHTTPClient()
	wantErr := errors.New("connection refused")
	mock.Routes["/api"] = &MockResponse{Error: wantErr}

	if _, err := Fetch(context.Background(), mock, "http://example.com/api"); !errors.Is(err, wantErr) {
		t.Errorf("got error %v, want %v", err, wantErr)
	}
}

func TestMockHTTPClient_AddRouteOnZeroValue(t *testing.T) {
	mock := &MockHTTPClient{}
	mock.AddRoute("/x", http.StatusOK, "ok")

	body, err := Fetch(context.Background(), mock, "http://example.com/x")
	if err != nil || string(body) != "ok" {
		t.Errorf("Fetch = %q, %v", body, err)
	}
}
