// Package httpx defines the HttpReq contract (spec C4) the transfer
// engine issues byte-range requests through, plus a reference
// implementation backed by net/http with an HTTP/2-aware transport —
// the engine itself never depends on net/http directly so that tests
// can substitute a fake.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
)

// Status mirrors the external HttpReq contract's state machine.
type Status int

const (
	ReqReady Status = iota
	ReqInflight
	ReqSuccess
	ReqFailure
	ReqDone
)

func (s Status) String() string {
	switch s {
	case ReqReady:
		return "READY"
	case ReqInflight:
		return "INFLIGHT"
	case ReqSuccess:
		return "SUCCESS"
	case ReqFailure:
		return "FAILURE"
	case ReqDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Req is the engine-facing contract for one byte-range HTTP request.
// The engine never blocks on it: Post issues the request in the
// background and the engine polls Status/Status changes from its
// single-threaded loop.
type Req interface {
	// Post issues a GET or PUT with the given byte range against url.
	// lo is inclusive; hi is exclusive, or -1 for "to end of resource".
	Post(ctx context.Context, method, url string, lo, hi int64, body io.Reader) error
	// Status reports the current state.
	Status() Status
	// HTTPStatus reports the last observed HTTP status code, once
	// Status is SUCCESS or FAILURE.
	HTTPStatus() int
	// In reads and clears whatever response bytes have arrived so far
	// without blocking.
	In() []byte
	// Disconnect aborts any in-flight request and releases resources.
	// The Req is reusable afterward.
	Disconnect()
}

// Client issues Req instances over a shared, HTTP/2-capable transport
// pool, the way one DirectReadSlot multiplexes many range requests over
// a bounded set of persistent connections.
type Client struct {
	hc *http.Client
}

// NewClient builds a Client whose transport is configured for HTTP/2
// multiplexing, matching golang.org/x/net — the same module the teacher
// already depends on — via http2.ConfigureTransport.
func NewClient() (*Client, error) {
	tr := &http.Transport{
		MaxIdleConnsPerHost: 8,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("httpx: configure http2 transport: %w", err)
	}
	return &Client{hc: &http.Client{Transport: tr}}, nil
}

// NewReq returns a fresh, READY Req bound to this client's transport.
func (c *Client) NewReq() Req {
	return &req{hc: c.hc}
}

type req struct {
	hc         *http.Client
	mu         sync.Mutex
	status     Status
	httpStatus int
	buf        []byte
	cancel     context.CancelFunc
}

// RangeHeader renders the wire-level byte-range syntax the spec
// mandates: "/{lo}-{hi}" appended to the temporary URL path, not a
// standard RFC 7233 Range header — matching spec §6's stated
// compatibility surface for the remote object service.
func RangeHeader(lo, hi int64) string {
	if hi < 0 {
		return fmt.Sprintf("/%d-", lo)
	}
	return fmt.Sprintf("/%d-%d", lo, hi-1)
}

func (r *req) Post(ctx context.Context, method, url string, lo, hi int64, body io.Reader) error {
	r.mu.Lock()
	if r.status == ReqInflight {
		r.mu.Unlock()
		return fmt.Errorf("httpx: request already inflight")
	}
	r.status = ReqInflight
	r.buf = nil
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	target := url + RangeHeader(lo, hi)
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		r.fail(0)
		return err
	}

	go r.run(httpReq)
	return nil
}

// run streams the response body into r.buf as it arrives rather than
// buffering the whole thing with one io.ReadAll, so status stays
// INFLIGHT with partial bytes already available via In() — the shape
// DoIO's drain step needs to chunk submissions adaptively instead of
// handing the RAID buffer one oversized piece per request.
func (r *req) run(httpReq *http.Request) {
	resp, err := r.hc.Do(httpReq)
	if err != nil {
		r.fail(0)
		return
	}
	defer resp.Body.Close()

	r.mu.Lock()
	r.httpStatus = resp.StatusCode
	r.mu.Unlock()
	if resp.StatusCode >= 400 {
		r.fail(resp.StatusCode)
		return
	}

	chunk := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			r.buf = append(r.buf, chunk[:n]...)
			r.mu.Unlock()
		}
		if rerr != nil {
			r.mu.Lock()
			if rerr == io.EOF {
				r.status = ReqSuccess
			} else {
				r.status = ReqFailure
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *req) fail(httpStatus int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ReqFailure
	r.httpStatus = httpStatus
}

func (r *req) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *req) HTTPStatus() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.httpStatus
}

func (r *req) In() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.buf
	r.buf = nil
	return b
}

func (r *req) Disconnect() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.status = ReqReady
	r.buf = nil
	r.httpStatus = 0
	r.mu.Unlock()
}
