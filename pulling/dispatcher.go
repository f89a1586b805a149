package pulling

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// DispatcherConfig configures the one *http.Client per priority class
// HttpDispatcher owns: per-class connection-pool tuning instead of one
// shared client, so head-of-line blocking on one class's sockets can't
// starve another.
type DispatcherConfig struct {
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	RequestTimeout      time.Duration
}

// DefaultDispatcherConfig returns sane per-class connection-pool defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxIdleConnsPerHost: 32,
		MaxConnsPerHost:     64,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// ClassMetrics is the per-priority-class counter set HttpDispatcher
// tracks, keyed by priority class.
type ClassMetrics struct {
	ActiveRequests int64
	TotalRequests  int64
	TotalErrors    int64
}

// HttpDispatcher owns one *http.Client per priority class. send
// constructs the request from (host, port, URL, headers, method=GET),
// submits it, and the caller awaits the returned channel — the future
// is resolved off the transport's own goroutine pool by the standard
// library's http.Client machinery, so slow consumers never starve
// reception.
type HttpDispatcher struct {
	clients    [numPriorities]*http.Client
	metrics    [numPriorities]*ClassMetrics
	shutdownCh chan struct{}
	shutdown   int32
}

// NewHttpDispatcher builds one client per priority class from cfg.
func NewHttpDispatcher(cfg DispatcherConfig) *HttpDispatcher {
	d := &HttpDispatcher{shutdownCh: make(chan struct{})}
	for p := 0; p < numPriorities; p++ {
		d.metrics[p] = &ClassMetrics{}
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.DialTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
		d.clients[p] = &http.Client{
			Transport: &classRoundTripper{inner: transport, metrics: d.metrics[p]},
			Timeout:   cfg.RequestTimeout,
		}
	}
	return d
}

// result is what Send resolves with.
type result struct {
	body   []byte
	status int
	err    error
}

// Send issues the GET for req on its priority class's client and
// returns a channel that receives exactly one result. The caller reads
// it via a select against ctx.Done() so cancellation propagates
// (PullingEngine.Shutdown aborts in-flight requests this way).
func (d *HttpDispatcher) Send(ctx context.Context, req *FeedRequest) <-chan result {
	out := make(chan result, 1)
	if atomic.LoadInt32(&d.shutdown) != 0 {
		out <- result{err: &ShutdownError{}}
		return out
	}

	client := d.clients[req.Priority]
	go func() {
		body, status, err := doGet(ctx, client, req)
		select {
		case <-d.shutdownCh:
			out <- result{err: &ShutdownError{}}
		default:
			out <- result{body: body, status: status, err: err}
		}
	}()
	return out
}

func doGet(ctx context.Context, client *http.Client, req *FeedRequest) ([]byte, int, error) {
	url := fmt.Sprintf("http://%s:%d%s", req.Host, req.Port, req.URL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &TransportError{Err: err}
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Key, h.Value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, &TimeoutError{Err: ctxErr}
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, 0, &TimeoutError{Err: err}
		}
		return nil, 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, &HttpStatusError{Code: resp.StatusCode}
	}
	return body, resp.StatusCode, nil
}

// Metrics returns a snapshot of per-class counters for observability.
func (d *HttpDispatcher) Metrics() [numPriorities]ClassMetrics {
	var out [numPriorities]ClassMetrics
	for p := 0; p < numPriorities; p++ {
		out[p] = ClassMetrics{
			ActiveRequests: atomic.LoadInt64(&d.metrics[p].ActiveRequests),
			TotalRequests:  atomic.LoadInt64(&d.metrics[p].TotalRequests),
			TotalErrors:    atomic.LoadInt64(&d.metrics[p].TotalErrors),
		}
	}
	return out
}

// Shutdown closes all per-priority clients' idle connections. Pending
// sends still in flight resolve with ShutdownError once their goroutine
// notices shutdownCh closed.
func (d *HttpDispatcher) Shutdown() {
	if !atomic.CompareAndSwapInt32(&d.shutdown, 0, 1) {
		return
	}
	close(d.shutdownCh)
	for p := 0; p < numPriorities; p++ {
		d.clients[p].CloseIdleConnections()
	}
}

// classRoundTripper tracks ClassMetrics around the inner transport for
// one priority class.
type classRoundTripper struct {
	inner   http.RoundTripper
	metrics *ClassMetrics
}

func (c *classRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.metrics.ActiveRequests, 1)
	defer atomic.AddInt64(&c.metrics.ActiveRequests, -1)
	atomic.AddInt64(&c.metrics.TotalRequests, 1)

	resp, err := c.inner.RoundTrip(req)
	if err != nil {
		atomic.AddInt64(&c.metrics.TotalErrors, 1)
	}
	return resp, err
}
