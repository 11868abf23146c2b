// Package igdb provides the IGDB API client used by the extraction core:
// authenticated page fetches with rate gating, bounded retry and error
// classification.
package igdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/gamelake/igdb-pipeline/pkg/logging"
	"github.com/gamelake/igdb-pipeline/pkg/ratelimit"
)

// Prometheus metrics for IGDB request operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igdb_requests_total",
		Help: "Total IGDB requests by entity and status",
	}, []string{"entity", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igdb_request_duration_seconds",
		Help:    "IGDB request duration in seconds by entity",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"entity"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igdb_errors_total",
		Help: "Total IGDB errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the IGDB v4 API root.
const DefaultBaseURL = "https://api.igdb.com/v4"

// Record is one raw entity item as returned by the API. The extraction core
// passes record contents through without interpreting them.
type Record map[string]any

// Page is the result of fetching one page: the offset it was requested at
// and the records returned. An empty Records slice signals end of data at or
// beyond Offset.
type Page struct {
	Offset  int
	Records []Record
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the IGDB API (default: DefaultBaseURL).
	BaseURL string

	// ClientID sent as the Client-ID header (REQUIRED by IGDB).
	ClientID string

	// Auth supplies bearer tokens.
	Auth TokenProvider

	// Gate limits request rate and concurrency. Nil disables gating.
	Gate *ratelimit.Gate

	// HTTPClient performs the requests (default: 30s timeout client).
	HTTPClient *http.Client

	// Retry controls the bounded retry policy for transient failures.
	Retry RetryConfig

	// RequestTimeout bounds each individual page fetch attempt.
	RequestTimeout time.Duration
}

// Client is the IGDB API client.
type Client struct {
	baseURL        string
	clientID       string
	auth           TokenProvider
	gate           *ratelimit.Gate
	httpClient     *http.Client
	retry          RetryConfig
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// New creates a new IGDB client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("token provider is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		clientID:       cfg.ClientID,
		auth:           cfg.Auth,
		gate:           cfg.Gate,
		httpClient:     cfg.HTTPClient,
		retry:          cfg.Retry,
		requestTimeout: cfg.RequestTimeout,
		logger:         logging.NewLogger("igdb-client"),
	}, nil
}

// PaginateQuery appends the limit/offset clauses for one page request.
func PaginateQuery(query string, limit, offset int) string {
	return fmt.Sprintf("%s limit %d; offset %d;", strings.TrimSpace(query), limit, offset)
}

// FetchPage fetches exactly one page of one entity at one offset. Transient
// failures (5xx, 429, network errors, timeouts) are retried with exponential
// backoff; each attempt re-acquires a rate gate admission. An empty
// Page.Records signals end of data.
func (c *Client) FetchPage(ctx context.Context, entity Entity, query string, offset int) (Page, error) {
	paginated := PaginateQuery(query, entity.EffectivePageLimit(), offset)

	token, err := c.auth.Token(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("entity %s: %w", entity.Name, err)
	}

	var records []Record

	err = retryWithBackoff(ctx, c.retry, func() error {
		var attemptErr error
		records, attemptErr = c.fetchOnce(ctx, entity, paginated, offset, token)
		return attemptErr
	})
	if err != nil {
		return Page{}, err
	}

	return Page{Offset: offset, Records: records}, nil
}

// fetchOnce performs a single gated request attempt.
func (c *Client) fetchOnce(ctx context.Context, entity Entity, query string, offset int, token string) ([]Record, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate gate: %w", err)
	}
	defer c.gate.Release()

	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(entity.Name).Observe(time.Since(start).Seconds())
	}()

	url := c.baseURL + "/" + entity.Endpoint
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("entity", entity.Name).
		Int("offset", offset).
		Str("query", query).
		Msg("Executing IGDB request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(entity.Name, "network_error").Inc()
		return nil, &APIError{
			Class:   ErrorClassNetwork,
			Entity:  entity.Name,
			Offset:  offset,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(entity.Name, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("entity", entity.Name).
			Int("offset", offset).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("IGDB request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Entity:     entity.Name,
			Offset:     offset,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Entity:     entity.Name,
			Offset:     offset,
			Message:    "malformed response body",
			Err:        err,
		}
	}

	return records, nil
}
