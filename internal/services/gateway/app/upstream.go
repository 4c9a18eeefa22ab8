package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Upstream string
	Method   string
	Path     string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s %s: status %d", e.Upstream, e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func asStatus(err error, target **StatusError) bool { return errors.As(err, target) }

// Upstream is a JSON client for one REST service, guarded by a circuit
// breaker. GETs are retried with exponential backoff while the breaker allows.
type Upstream struct {
	name    string
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retries uint64
}

func NewUpstream(name, base string, timeout time.Duration, retries int, breaker *gobreaker.CircuitBreaker) *Upstream {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Upstream{
		name:    name,
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		retries: uint64(retries),
	}
}

func (u *Upstream) GetJSON(ctx context.Context, path string, out any) error {
	return u.Do(ctx, http.MethodGet, path, nil, out)
}

// Do sends in as JSON (when non-nil) and decodes the response into out
// (when non-nil). Only GET is retried.
func (u *Upstream) Do(ctx context.Context, method, path string, in, out any) error {
	if u == nil || u.base == "" {
		return fmt.Errorf("upstream not configured")
	}
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s encode request: %w", u.name, err)
		}
		body = b
	}

	call := func() error {
		_, err := u.breaker.Execute(func() (any, error) {
			return nil, u.once(ctx, method, path, body, out)
		})
		var se *StatusError
		if asStatus(err, &se) && se.Code < 500 {
			return backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%s: %w", u.name, err))
		}
		return err
	}
	if method != http.MethodGet || u.retries == 0 {
		err := call()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(call, backoff.WithContext(backoff.WithMaxRetries(bo, u.retries), ctx))
}

func (u *Upstream) once(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.base+"/"+strings.TrimLeft(path, "/"), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request error: %w", u.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Upstream: u.name, Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s decode error: %w", u.name, err)
	}
	return nil
}

// Ping checks reachability through the breaker.
func (u *Upstream) Ping(ctx context.Context, path string) error {
	return u.Do(ctx, http.MethodGet, path, nil, nil)
}
