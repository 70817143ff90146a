// Package supabase provides a RecordStore backed by Supabase PostgREST.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/resilience"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

var _ port.RecordStore = (*Client)(nil)

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if serviceRoleKey == "" {
		serviceRoleKey = apiKey
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// doRequest executes an authenticated request to Supabase PostgREST.
// 4xx responses are permanent so the retry loop gives up on them.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, prefer string) ([]byte, http.Header, error) {
	target := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, resilience.Permanent(fmt.Errorf("encode body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		serr := &statusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode < 500 {
			return nil, nil, resilience.Permanent(serr)
		}
		return nil, nil, serr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return respBody, resp.Header, nil
}

// Select fetches rows matching q and decodes them into dest.
func (c *Client) Select(ctx context.Context, table string, q port.Query, dest any) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Select")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	params, err := encodeQuery(q)
	if err != nil {
		return 0, err
	}
	params.Set("select", "*")

	prefer := ""
	if q.Count {
		prefer = "count=exact"
	}

	var total int
	err = resilience.Execute(ctx, c.cb, c.cfg, true, func() error {
		body, header, err := c.doRequest(ctx, http.MethodGet, table, params, nil, prefer)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			body = []byte("[]")
		}
		if err := json.Unmarshal(body, dest); err != nil {
			return resilience.Permanent(fmt.Errorf("decode %s: %w", table, err))
		}
		total = countFrom(header, body)
		return nil
	})
	if err != nil {
		return 0, wrapErr(table, err)
	}
	return total, nil
}

// Insert writes rows and decodes the stored representation into dest when non-nil.
func (c *Client) Insert(ctx context.Context, table string, rows any, dest any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	return wrapErr(table, resilience.Execute(ctx, c.cb, c.cfg, false, func() error {
		body, _, err := c.doRequest(ctx, http.MethodPost, table, nil, rows, "return=representation")
		if err != nil {
			return err
		}
		if dest == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("decode inserted %s: %w", table, err)
		}
		return nil
	}))
}

// Update patches rows matching filters.
func (c *Client) Update(ctx context.Context, table string, data map[string]any, filters ...port.Filter) error {
	ctx, span := tracer.Start(ctx, "Supabase.Update")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "update without filters is not allowed"}
	}
	params, err := encodeQuery(port.Query{Filters: filters})
	if err != nil {
		return err
	}

	return wrapErr(table, resilience.Execute(ctx, c.cb, c.cfg, false, func() error {
		_, _, err := c.doRequest(ctx, http.MethodPatch, table, params, data, "return=minimal")
		return err
	}))
}

// Delete removes rows matching filters.
func (c *Client) Delete(ctx context.Context, table string, filters ...port.Filter) error {
	ctx, span := tracer.Start(ctx, "Supabase.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "delete without filters is not allowed"}
	}
	params, err := encodeQuery(port.Query{Filters: filters})
	if err != nil {
		return err
	}

	return wrapErr(table, resilience.Execute(ctx, c.cb, c.cfg, false, func() error {
		_, _, err := c.doRequest(ctx, http.MethodDelete, table, params, nil, "return=minimal")
		return err
	}))
}

// RPC invokes a Postgres function through /rest/v1/rpc/{function}.
func (c *Client) RPC(ctx context.Context, function string, params map[string]any, dest any) error {
	ctx, span := tracer.Start(ctx, "Supabase.RPC")
	defer span.End()
	span.SetAttributes(attribute.String("function", function))

	if params == nil {
		params = map[string]any{}
	}

	return wrapErr("rpc/"+function, resilience.Execute(ctx, c.cb, c.cfg, false, func() error {
		body, _, err := c.doRequest(ctx, http.MethodPost, "rpc/"+function, nil, params, "")
		if err != nil {
			return err
		}
		if dest == nil || len(body) == 0 {
			return nil
		}
		return json.Unmarshal(body, dest)
	}))
}

// Ping checks PostgREST reachability for health checks.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("select", "setting_key")
	params.Set("limit", "1")
	_, _, err := c.doRequest(ctx, http.MethodGet, port.TableSystemSettings, params, nil, "")
	return err
}

// countFrom reads the total from Content-Range ("0-9/42"), falling back to the row count.
func countFrom(header http.Header, body []byte) int {
	if cr := header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.Atoi(cr[i+1:]); err == nil {
				return n
			}
		}
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0
	}
	return len(rows)
}

func wrapErr(service string, err error) error {
	if err == nil {
		return nil
	}
	var circuitOpen *domain.ErrCircuitOpen
	if errors.As(err, &circuitOpen) {
		return err
	}
	return &domain.ErrExternalService{Service: "supabase/" + service, Err: err}
}
