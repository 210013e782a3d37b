// Package session wraps an HTTP client with the cookie-carrying session
// behavior the banking portal requires. Every request in a retrieval
// run flows through one Client so the portal's session cookies
// accumulate across the login, challenge, and export steps.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/volatileeight/autopilot/internal/trace"
)

const defaultTimeout = 2 * time.Minute

// Request describes one portal request. A non-nil Form turns the
// request into a form-encoded POST regardless of Method.
type Request struct {
	Method  string
	URL     string
	Referer string
	Header  http.Header
	Form    url.Values
	Cookies []*http.Cookie
}

// Response carries the portal's reply with the body fully read. Portal
// pages are small HTML or OFX payloads, so buffering is fine.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       string
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each request. Zero means the default of two minutes;
	// the export endpoint is slow for large date ranges.
	Timeout   time.Duration
	UserAgent string
	Sink      trace.Sink
}

// Client is a cookie-carrying HTTP session. It is owned by a single
// retrieval flow and is not safe for concurrent use.
type Client struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
	sink       trace.Sink
}

// New creates a Client with a fresh cookie jar.
func New(opts Options) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	sink := opts.Sink
	if sink == nil {
		sink = trace.Nop()
	}

	return &Client{
		httpClient: &http.Client{Jar: jar},
		userAgent:  opts.UserAgent,
		timeout:    timeout,
		sink:       sink,
	}, nil
}

// Reset discards all session cookies. A flow calls this before a new
// login so stale session state from a previous run cannot leak in.
func (c *Client) Reset() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	c.httpClient.Jar = jar
	return nil
}

// Do executes one portal request and reads the full body. Transport
// failures are mapped to *NetworkError; deadline expiry to
// *TimeoutError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := req.Method
	var body io.Reader
	if req.Form != nil {
		method = http.MethodPost
		body = strings.NewReader(req.Form.Encode())
	} else if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	for _, cookie := range req.Cookies {
		httpReq.AddCookie(cookie)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = classify(req.URL, err)
		trace.EmitErr(c.sink, "http", method+" "+req.URL, err)
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		err = classify(req.URL, err)
		trace.EmitErr(c.sink, "http", method+" "+req.URL, err)
		return nil, err
	}

	trace.Emit(c.sink, "http", method+" "+req.URL+" -> "+httpResp.Status)
	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       string(raw),
	}, nil
}

// classify maps a transport error to the session error types.
func classify(reqURL string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{URL: reqURL, Err: err}
	}
	return &NetworkError{URL: reqURL, Err: err}
}
