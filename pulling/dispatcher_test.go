package pulling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func testServerHostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}
	return u.Hostname(), port
}

func TestDispatcherSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	host, port := testServerHostPort(t, srv)
	d := NewHttpDispatcher(DefaultDispatcherConfig())
	defer d.Shutdown()

	req := NewFeedRequest("/", host, port, nil, Medium, "")
	res := <-d.Send(context.Background(), req)
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.status)
	}
	if string(res.body) != "ok" {
		t.Fatalf("expected body 'ok', got %q", res.body)
	}
}

func TestDispatcherSendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	host, port := testServerHostPort(t, srv)
	d := NewHttpDispatcher(DefaultDispatcherConfig())
	defer d.Shutdown()

	req := NewFeedRequest("/", host, port, nil, Medium, "")
	res := <-d.Send(context.Background(), req)
	statusErr, ok := res.err.(*HttpStatusError)
	if !ok {
		t.Fatalf("expected HttpStatusError, got %T (%v)", res.err, res.err)
	}
	if !statusErr.IsClientError() {
		t.Fatalf("expected 404 to be classified as a client error")
	}
}

func TestDispatcherMetricsTrackTotals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := testServerHostPort(t, srv)
	d := NewHttpDispatcher(DefaultDispatcherConfig())
	defer d.Shutdown()

	req := NewFeedRequest("/", host, port, nil, High, "")
	<-d.Send(context.Background(), req)

	metrics := d.Metrics()
	if metrics[High].TotalRequests != 1 {
		t.Fatalf("expected 1 total request recorded for High, got %d", metrics[High].TotalRequests)
	}
	if metrics[Medium].TotalRequests != 0 {
		t.Fatalf("expected priority classes to track independently, Medium got %d", metrics[Medium].TotalRequests)
	}
}

func TestDispatcherShutdownRejectsNewSends(t *testing.T) {
	d := NewHttpDispatcher(DefaultDispatcherConfig())
	d.Shutdown()

	req := NewFeedRequest("/", "example.invalid", 80, nil, Medium, "")
	res := <-d.Send(context.Background(), req)
	if _, ok := res.err.(*ShutdownError); !ok {
		t.Fatalf("expected ShutdownError after Shutdown, got %T", res.err)
	}
}
