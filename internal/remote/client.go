// Package remote executes sub-queries against SPARQL protocol endpoints.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/telemetry"
	"go.uber.org/zap"
)

// Client speaks the SPARQL 1.1 protocol. It is safe for concurrent use.
type Client struct {
	http      *http.Client
	method    string
	userAgent string
	buffer    int
	breakers  *breakers
	logQuery  bool
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamBuffer sets the row buffer between decoder and consumer.
func WithStreamBuffer(n int) Option {
	return func(c *Client) { c.buffer = n }
}

// WithQueryLogging logs every sub-query at debug level.
func WithQueryLogging(on bool) Option {
	return func(c *Client) { c.logQuery = on }
}

// NewClient builds a client from the remote configuration.
func NewClient(cfg fedsparql.RemoteConfig, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	c := &Client{
		http:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		method:    strings.ToUpper(cfg.Method),
		userAgent: cfg.UserAgent,
		buffer:    64,
		breakers:  newBreakers(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown),
	}
	if c.method == "" {
		c.method = http.MethodPost
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select sends a SELECT query and streams its solutions. The stream owns the
// HTTP response; closing it aborts the transfer.
func (c *Client) Select(ctx context.Context, src fedsparql.Source, query string) (iter.Iterator, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	resp, err := c.do(reqCtx, src, query, "select")
	if err != nil {
		cancel()
		return nil, err
	}
	stream := iter.NewStream(reqCtx, c.buffer, func(ctx context.Context, emit func(fedsparql.BindingSet) bool) error {
		defer cancel()
		defer resp.Body.Close()
		stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
		defer stop()

		var rows int64
		err := decodeBindings(resp.Body, func(row fedsparql.BindingSet) bool {
			rows++
			return emit(row)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return c.streamError(ctx, src, query, err)
		}
		telemetry.EmitRowCount(ctx, src.Endpoint, rows)
		return nil
	})
	return stream, nil
}

// Ask sends an ASK query.
func (c *Client) Ask(ctx context.Context, src fedsparql.Source, query string) (bool, error) {
	resp, err := c.do(ctx, src, query, "ask")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	ok, err := decodeBoolean(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, c.streamError(ctx, src, query, err)
	}
	return ok, nil
}

// Count sends a COUNT query and returns the single ?count value.
func (c *Client) Count(ctx context.Context, src fedsparql.Source, query, countVar string) (int64, error) {
	it, err := c.Select(ctx, src, query)
	if err != nil {
		return 0, err
	}
	rows, err := iter.Collect(it)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	t, ok := rows[0][countVar]
	if !ok {
		return 0, fedsparql.NewFedError(fedsparql.ErrorTypeSourceUnreachable, fedsparql.ErrCodeInvalidResults,
			"count result has no ?"+countVar+" binding").WithSource(src).WithQuery(query)
	}
	n, err := strconv.ParseInt(t.Value, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(t.Value, 64)
		if ferr != nil {
			return 0, fedsparql.NewFedError(fedsparql.ErrorTypeSourceUnreachable, fedsparql.ErrCodeInvalidResults,
				"count is not numeric: "+t.Value).WithSource(src).WithQuery(query)
		}
		n = int64(f)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, src fedsparql.Source, query, form string) (*http.Response, error) {
	cb := c.breakers.get(src.Endpoint)
	if cb.IsOpen() {
		telemetry.EmitSourceFailure(ctx, src.Endpoint, "circuit_open")
		return nil, fedsparql.NewSourceUnreachableError(src, fedsparql.ErrCodeCircuitOpen, errors.New("circuit breaker open"))
	}

	req, err := c.newRequest(ctx, src, query)
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "build request for "+src.Endpoint).WithCause(err)
	}
	if c.logQuery {
		zap.S().Debugw("sending sub-query", "source", src.Endpoint, "form", form, "query", query)
	}
	telemetry.EmitRequest(ctx, src.Endpoint, form)

	start := time.Now()
	resp, err := c.http.Do(req)
	telemetry.EmitLatency(ctx, "remote", time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cb.RecordFailure()
		telemetry.EmitSourceFailure(ctx, src.Endpoint, "unreachable")
		return nil, fedsparql.NewSourceUnreachableError(src, fedsparql.ErrCodeConnectionFailed, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		cb.RecordSuccess()
		return resp, nil
	case resp.StatusCode == http.StatusBadRequest:
		msg := readSnippet(resp.Body)
		resp.Body.Close()
		zap.S().Errorw("endpoint rejected generated sub-query", "source", src.Endpoint, "query", query, "response", msg)
		telemetry.EmitSourceFailure(ctx, src.Endpoint, "rejected")
		return nil, fedsparql.NewMalformedSubqueryError(src, query, "endpoint rejected query: "+msg)
	default:
		msg := readSnippet(resp.Body)
		resp.Body.Close()
		cb.RecordFailure()
		telemetry.EmitSourceFailure(ctx, src.Endpoint, "status")
		return nil, fedsparql.NewSourceUnreachableError(src, fedsparql.ErrCodeEndpointError,
			fmt.Errorf("http status %d: %s", resp.StatusCode, msg))
	}
}

func (c *Client) newRequest(ctx context.Context, src fedsparql.Source, query string) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	form := url.Values{"query": {query}}
	if c.method == http.MethodGet {
		u, perr := url.Parse(src.Endpoint)
		if perr != nil {
			return nil, perr
		}
		q := u.Query()
		q.Set("query", query)
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, src.Endpoint, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", MediaTypeResults)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// streamError classifies a failure while reading a response body.
func (c *Client) streamError(ctx context.Context, src fedsparql.Source, query string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || !isIOError(err) {
		telemetry.EmitSourceFailure(ctx, src.Endpoint, "invalid_results")
		return fedsparql.NewFedError(fedsparql.ErrorTypeSourceUnreachable, fedsparql.ErrCodeInvalidResults,
			"invalid result document").WithSource(src).WithQuery(query).WithCause(err)
	}
	c.breakers.get(src.Endpoint).RecordFailure()
	telemetry.EmitSourceFailure(ctx, src.Endpoint, "connection_lost")
	return fedsparql.NewSourceUnreachableError(src, fedsparql.ErrCodeConnectionLost, err)
}

func isIOError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1024))
	return strings.TrimSpace(string(b))
}
