package flywheel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Op is one unit of work driven by the flywheel. A non-nil error counts
// as a failed operation.
type Op interface {
	Do(ctx context.Context) error
}

// OpFunc adapts a function to Op.
type OpFunc func(ctx context.Context) error

// Do calls f(ctx).
func (f OpFunc) Do(ctx context.Context) error { return f(ctx) }

// ErrOverloaded is returned by SyntheticOp when no slot frees up in time.
var ErrOverloaded = errors.New("synthetic target overloaded")

// ExpectationError reports a response that did not match its Expect.
type ExpectationError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("expected %s %q, got %q", e.Field, e.Expected, e.Actual)
}

// Expect describes what a successful HTTP response looks like.
type Expect struct {
	// Status is the required status code. Zero accepts anything below 400.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`

	// Path is a JSONPath ($.a.b[0]) or gjson path checked in the body.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Value is compared with the string form of Path's result. Empty
	// only requires the path to exist.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Check validates a response against the expectation.
func (e Expect) Check(status int, body []byte) error {
	if e.Status != 0 && status != e.Status {
		return &ExpectationError{Field: "status", Expected: strconv.Itoa(e.Status), Actual: strconv.Itoa(status)}
	}
	if e.Status == 0 && status >= 400 {
		return &ExpectationError{Field: "status", Expected: "< 400", Actual: strconv.Itoa(status)}
	}
	if e.Path == "" {
		return nil
	}

	result := gjson.GetBytes(body, gjsonPath(e.Path))
	if !result.Exists() {
		return &ExpectationError{Field: e.Path, Expected: "present", Actual: "missing"}
	}
	if e.Value != "" && result.String() != e.Value {
		return &ExpectationError{Field: e.Path, Expected: e.Value, Actual: result.String()}
	}
	return nil
}

// HTTPConfig configures an HTTPOp.
type HTTPConfig struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Expect  Expect

	// MaxIdleConnsPerHost sizes the keep-alive pool. Zero uses 100.
	MaxIdleConnsPerHost int

	InsecureSkipVerify bool
}

// HTTPOp sends one HTTP request per operation over a shared transport.
type HTTPOp struct {
	client  *http.Client
	method  string
	url     string
	headers map[string]string
	body    []byte
	expect  Expect
}

// NewHTTPOp creates an HTTP operation.
func NewHTTPOp(cfg HTTPConfig) (*HTTPOp, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid target url %q: scheme must be http or https", cfg.URL)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	idle := cfg.MaxIdleConnsPerHost
	if idle <= 0 {
		idle = 100
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        idle * 10,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPOp{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		method:  method,
		url:     cfg.URL,
		headers: cfg.Headers,
		body:    []byte(cfg.Body),
		expect:  cfg.Expect,
	}, nil
}

// Do sends the request and checks the response.
func (o *HTTPOp) Do(ctx context.Context) error {
	var body io.Reader
	if len(o.body) > 0 {
		body = bytes.NewReader(o.body)
	}

	req, err := http.NewRequestWithContext(ctx, o.method, o.url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var respBody []byte
	if o.expect.Path != "" {
		respBody, err = io.ReadAll(resp.Body)
	} else {
		// Drain so the connection goes back to the pool.
		_, err = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return o.expect.Check(resp.StatusCode, respBody)
}

// CloseIdleConnections releases pooled connections.
func (o *HTTPOp) CloseIdleConnections() {
	o.client.CloseIdleConnections()
}

// SyntheticOp models a service with a fixed number of slots, each busy
// for Latency per operation, so its capacity is Slots/Latency ops/sec.
// An operation that cannot get a slot within Timeout fails with
// ErrOverloaded.
type SyntheticOp struct {
	slots   chan struct{}
	latency time.Duration
	timeout time.Duration
}

// NewSyntheticOp creates a synthetic service.
func NewSyntheticOp(slots int, latency, timeout time.Duration) (*SyntheticOp, error) {
	if slots < 1 {
		return nil, fmt.Errorf("synthetic slots must be >= 1, got %d", slots)
	}
	if latency <= 0 {
		return nil, fmt.Errorf("synthetic latency must be > 0, got %v", latency)
	}
	return &SyntheticOp{
		slots:   make(chan struct{}, slots),
		latency: latency,
		timeout: timeout,
	}, nil
}

// NewSyntheticCapacity sizes a synthetic service for about capacity
// ops/sec with a 10ms service time.
func NewSyntheticCapacity(capacity float64) (*SyntheticOp, error) {
	const latency = 10 * time.Millisecond
	slots := int(capacity*latency.Seconds() + 0.5)
	if slots < 1 {
		return nil, fmt.Errorf("synthetic capacity %v is below %v ops/sec", capacity, 1/latency.Seconds())
	}
	return NewSyntheticOp(slots, latency, 5*latency)
}

// Capacity returns the sustained ops/sec this service can absorb.
func (s *SyntheticOp) Capacity() float64 {
	return float64(cap(s.slots)) / s.latency.Seconds()
}

// Do occupies one slot for the service time.
func (s *SyntheticOp) Do(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.slots }()

	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *SyntheticOp) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	default:
	}
	if s.timeout <= 0 {
		return ErrOverloaded
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrOverloaded
	}
}
