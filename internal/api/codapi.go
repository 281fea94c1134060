// Package api talks to the Call of Duty stats provider, either over HTTP when
// a session cookie is configured or through JSON snapshots on disk.
package api

import (
	"bytes"
	"cod-tracker/internal/config"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/metrics"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// Normalized provider messages.
const (
	MsgNotAuthenticated = "Not permitted: not authenticated"
	MsgRateLimit        = "Not permitted: rate limit exceeded"
	MsgNotFound         = "not found"
	MsgNoResponse       = "no response"
	MsgUnexpected       = "unexpected error"
	MsgFileNotFound     = "file not found"
	MsgGameDataNotFound = "game data not found"
)

const sessionCookie = "ACT_SSO_COOKIE"

type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// ProviderError is a fetch that produced no usable payload.
type ProviderError struct {
	Message string
	Body    []byte
}

func (e *ProviderError) Error() string {
	return "provider: " + e.Message
}

type Response struct {
	Source   Source
	Location string
	Elapsed  time.Duration
	// Body is the whole envelope, Payload its "data" member.
	Body    []byte
	Payload json.RawMessage
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	base    string
	cookie  string
	dataDir string
	client  *fasthttp.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	c := &Client{
		base:    cfg.APIBase,
		cookie:  cfg.SSOCookie,
		dataDir: cfg.DataDir,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}

	const cbName = "cod-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// provider-level answers mean the transport works
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errStatusNotFound) || errors.Is(err, errStatusRateLimited)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return c
}

// HasToken reports whether remote fetching is possible.
func (c *Client) HasToken() bool {
	return c.cookie != ""
}


// Fetch loads the document for r from the remote API or the local snapshot
// tree. A nil error means Payload holds a successful "data" member.
func (c *Client) Fetch(ctx context.Context, r Request) (*Response, error) {
	start := time.Now()
	resp := &Response{}

	var (
		body    []byte
		message string
	)

	if c.HasToken() {
		resp.Source = SourceRemote
		resp.Location = BuildURL(c.base, r)
		if resp.Location == "" {
			return resp, &ProviderError{Message: fmt.Sprintf("no endpoint for %s", r.DataType)}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return resp, fmt.Errorf("failed to wait for request slot: %w", err)
		}
		body, message = c.getRemote(ctx, resp.Location)
	} else {
		resp.Source = SourceLocal
		resp.Location = SnapshotPath(c.dataDir, r)
		body, message = c.readLocal(resp.Location)
	}

	resp.Elapsed = time.Since(start)
	return c.decode(resp, body, message)
}

// decode turns a raw document into a Response, classifying failures.
func (c *Client) decode(resp *Response, body []byte, message string) (*Response, error) {
	resp.Body = body

	c.logger.Debug().
		Str("source", string(resp.Source)).
		Str("location", resp.Location).
		Dur("elapsed", resp.Elapsed).
		Str("error", message).
		Msg("provider fetch")

	if message != "" {
		metrics.ProviderRequests.WithLabelValues(string(resp.Source), "error").Inc()
		return resp, &ProviderError{Message: message, Body: body}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.ProviderRequests.WithLabelValues(string(resp.Source), "error").Inc()
		return resp, &ProviderError{Message: classifyBody(body), Body: body}
	}

	if env.Status == "success" && hasPayload(env.Data) {
		metrics.ProviderRequests.WithLabelValues(string(resp.Source), "success").Inc()
		resp.Payload = env.Data
		return resp, nil
	}

	metrics.ProviderRequests.WithLabelValues(string(resp.Source), "error").Inc()
	return resp, &ProviderError{Message: envelopeMessage(env), Body: body}
}

func (c *Client) getRemote(ctx context.Context, url string) ([]byte, string) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.SetCookie(sessionCookie, c.cookie)

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(constants.ExternalAPITimeout)
		}
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}

		body := append([]byte(nil), resp.Body()...)
		switch resp.StatusCode() {
		case fasthttp.StatusNotFound:
			return body, errStatusNotFound
		case fasthttp.StatusTooManyRequests:
			return body, errStatusRateLimited
		}
		return body, nil
	})

	switch {
	case errors.Is(err, errStatusNotFound):
		return body, MsgNotFound
	case errors.Is(err, errStatusRateLimited):
		return body, MsgRateLimit
	case err != nil:
		c.logger.Warn().Err(err).Str("url", url).Msg("provider request failed")
		return nil, MsgNoResponse
	}
	return body, ""
}

var (
	errStatusNotFound    = errors.New("status 404")
	errStatusRateLimited = errors.New("status 429")
)

func (c *Client) readLocal(path string) ([]byte, string) {
	if path == "" {
		return nil, MsgFileNotFound
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, MsgFileNotFound
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("failed to read snapshot")
		return nil, MsgUnexpected
	}
	return body, ""
}

// ReadSnapshot reads the local copy of r even when remote fetching is
// configured.
func (c *Client) ReadSnapshot(r Request) (*Response, error) {
	resp := &Response{Source: SourceLocal, Location: SnapshotPath(c.dataDir, r)}
	body, message := c.readLocal(resp.Location)
	return c.decode(resp, body, message)
}

// FullmatchSnapshots lists the match ids with a local fullmatch document
// for mode, in file name order.
func (c *Client) FullmatchSnapshots(mode domain.GameMode) ([]string, error) {
	dir := filepath.Dir(SnapshotPath(c.dataDir, Request{Target: "_", GameMode: mode, DataType: domain.DataTypeFullmatches}))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

// OpenBasic opens the BASIC tier export of one fullmatches partition.
func (c *Client) OpenBasic(mode domain.GameMode, year int) (io.ReadCloser, error) {
	path := BasicPath(c.dataDir, mode, year)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// SaveSnapshot writes body to the snapshot path of r unless it already exists.
func (c *Client) SaveSnapshot(r Request, body []byte) (bool, error) {
	return saveIfNotExists(SnapshotPath(c.dataDir, r), body)
}

// SaveError keeps the payload of a failed fetch for postmortem.
func (c *Client) SaveError(message string, body []byte) (bool, error) {
	if len(body) == 0 {
		body = []byte("{}")
	}
	return saveIfNotExists(ErrorPath(c.dataDir, message), body)
}

func saveIfNotExists(path string, body []byte) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(body); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

func hasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func classifyBody(body []byte) string {
	switch {
	case len(body) == 0:
		return MsgNoResponse
	case bytes.Contains(body, []byte("404 Not Found")):
		return MsgNotFound
	default:
		return MsgUnexpected
	}
}

func envelopeMessage(env envelope) string {
	if env.Message != "" {
		return env.Message
	}
	var data struct {
		Message string `json:"message"`
	}
	if hasPayload(env.Data) && json.Unmarshal(env.Data, &data) == nil && data.Message != "" {
		return data.Message
	}
	return MsgGameDataNotFound
}
