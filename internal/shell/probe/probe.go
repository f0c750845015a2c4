// Package probe checks HTTP endpoints of the deployed application, either from
// the target itself over the transport or from this machine.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/remote"
)

var (
	ErrUnreachable      = errors.New("endpoint unreachable")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// Result is the outcome of a single request.
type Result struct {
	URL      string
	Status   int
	Duration time.Duration
	Err      error
}

// OK reports whether the endpoint answered with an accepted status.
func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("HTTP %d in %s", r.Status, r.Duration.Round(time.Millisecond))
}

// Prober performs one request against the probe's URL.
type Prober interface {
	Probe(ctx context.Context, p domain.HealthProbe) Result
}

// =============================================================================
// Remote Probe
// =============================================================================

// Remote issues the request with curl on the target, so endpoints bound to the
// target's loopback interface are reachable.
type Remote struct {
	Transport remote.Transport
	Method    string // Default: GET
}

// Probe implements Prober.
func (r Remote) Probe(ctx context.Context, p domain.HealthProbe) Result {
	start := time.Now()
	res := Result{URL: p.URL}

	out, err := r.Transport.Run(ctx, CurlCommand(r.Method, p.URL, p.Timeout))
	res.Duration = time.Since(start)

	code := strings.TrimSpace(string(out))
	status, perr := strconv.Atoi(code)
	switch {
	case ctx.Err() != nil:
		res.Err = ctx.Err()
		return res
	case perr != nil || status == 0:
		// curl prints 000 and exits non-zero when no response arrived.
		if err == nil {
			err = fmt.Errorf("no status in curl output %q", code)
		}
		res.Err = fmt.Errorf("%w: %s: %v", ErrUnreachable, p.URL, err)
		return res
	}

	res.Status = status
	if !p.Succeeded(status) {
		res.Err = fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, p.URL, status)
	}
	return res
}

// CurlCommand builds a curl invocation that prints only the status code.
func CurlCommand(method, url string, timeout time.Duration) string {
	if method == "" {
		method = http.MethodGet
	}
	args := []string{"curl", "-s", "-o", "/dev/null", "-w", "%{http_code}", "-X", method}
	if timeout > 0 {
		args = append(args, "--max-time", strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))
	}
	args = append(args, url)
	return remote.Join(args...)
}

// =============================================================================
// Local HTTP Probe
// =============================================================================

// HTTP issues the request from this machine, used for the public edge URL.
type HTTP struct {
	Client *http.Client
}

// Probe implements Prober.
func (h HTTP) Probe(ctx context.Context, p domain.HealthProbe) Result {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	res := Result{URL: p.URL}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrUnreachable, p.URL, err)
		return res
	}
	resp.Body.Close()

	res.Status = resp.StatusCode
	if !p.Succeeded(resp.StatusCode) {
		res.Err = fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, p.URL, resp.StatusCode)
	}
	return res
}
