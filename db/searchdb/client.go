package searchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/metrics"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"

	maxLoggedRequestBody = 2048
)

type backgroundKey struct{}

// Background marks ctx as a background context (sync batches, CLI runs) so
// requests made with it get the longer background timeout.
func Background(ctx context.Context) context.Context {
	return context.WithValue(ctx, backgroundKey{}, true)
}

func isBackground(ctx context.Context) bool {
	background, _ := ctx.Value(backgroundKey{}).(bool)
	return background
}

type Client struct {
	es                *elasticsearch.Client
	index             string
	logger            logger.Logger
	metrics           *metrics.Metrics
	requestTimeout    time.Duration
	backgroundTimeout time.Duration

	mu   sync.Mutex
	last LastRequest
}

type Options struct {
	Addresses         []string
	Username          string
	Password          string
	APIKey            string
	Index             string
	RequestTimeout    time.Duration
	BackgroundTimeout time.Duration
	Transport         http.RoundTripper
}

func New(logger logger.Logger, cfg *config.Config, m *metrics.Metrics) (*Client, error) {
	return NewWithOptions(logger, m, Options{
		Addresses:         []string{cfg.GetEngineURL()},
		Username:          cfg.GetEngineUsername(),
		Password:          cfg.GetEnginePassword(),
		APIKey:            cfg.GetEngineAPIKey(),
		Index:             cfg.GetIndexName(),
		RequestTimeout:    cfg.GetRequestTimeout(),
		BackgroundTimeout: cfg.GetBackgroundTimeout(),
	})
}

func NewWithOptions(logger logger.Logger, m *metrics.Metrics, opts Options) (*Client, error) {
	if opts.Index == "" {
		return nil, errors.New("index name cannot be empty")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    opts.Addresses,
		Username:     opts.Username,
		Password:     opts.Password,
		APIKey:       opts.APIKey,
		Transport:    opts.Transport,
		DisableRetry: true,
	})
	if err != nil {
		logger.Error("could not create engine client", "err", err.Error())
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	backgroundTimeout := opts.BackgroundTimeout
	if backgroundTimeout <= 0 {
		backgroundTimeout = 60 * time.Second
	}

	return &Client{
		es:                es,
		index:             opts.Index,
		logger:            logger,
		metrics:           m,
		requestTimeout:    requestTimeout,
		backgroundTimeout: backgroundTimeout,
	}, nil
}

func (c *Client) Index() string {
	return c.index
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, "")
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, "")
}

// LastRequest returns the diagnostics recorded for the most recent call.
func (c *Client) LastRequest() LastRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) Search(ctx context.Context, query any) (*SearchResponse, error) {
	resp, err := c.Post(ctx, c.indexPath("/_search"), query)
	if err != nil {
		return nil, err
	}

	var searchResponse SearchResponse
	if err := json.Unmarshal(resp.Body, &searchResponse); err != nil {
		c.logger.Error("could not parse search response", "err", err.Error())
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}

	return &searchResponse, nil
}

func (c *Client) ClusterHealth(ctx context.Context) (*ClusterHealth, error) {
	resp, err := c.Get(ctx, "/_cluster/health")
	if err != nil {
		return nil, err
	}

	var health ClusterHealth
	if err := json.Unmarshal(resp.Body, &health); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}

	return &health, nil
}

func (c *Client) Count(ctx context.Context) (int64, error) {
	resp, err := c.Get(ctx, c.indexPath("/_count"))
	if err != nil {
		return 0, err
	}

	var count countResponse
	if err := json.Unmarshal(resp.Body, &count); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidResponse, err)
	}

	return count.Count, nil
}

// DeleteDocument removes one document. A document that is already absent is
// not an error.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	resp, err := c.Delete(ctx, c.indexPath("/_doc/"+url.PathEscape(id)))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) IndexExists(ctx context.Context) (bool, error) {
	resp, err := c.Get(ctx, c.indexPath(""))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) CreateIndex(ctx context.Context, settings any) error {
	_, err := c.Put(ctx, c.indexPath(""), settings)
	return err
}

func (c *Client) DeleteIndex(ctx context.Context) error {
	resp, err := c.Delete(ctx, c.indexPath(""))
	if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) indexPath(suffix string) string {
	return "/" + url.PathEscape(c.index) + suffix
}

func (c *Client) doJSON(ctx context.Context, method string, path string, body any) (*Response, error) {
	if body == nil {
		return c.do(ctx, method, path, nil, "")
	}

	var payload []byte
	switch b := body.(type) {
	case []byte:
		payload = b
	case json.RawMessage:
		payload = b
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.logger.Error("could not encode request body", "method", method, "path", path, "err", err.Error())
			return c.synthesize(method, path, "encode_error", err), fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	return c.do(ctx, method, path, payload, contentTypeJSON)
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte, contentType string) (*Response, error) {
	timeout := c.requestTimeout
	if isBackground(ctx) {
		timeout = c.backgroundTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		c.logger.Error("could not build engine request", "method", method, "path", path, "err", err.Error())
		return c.synthesize(method, path, "request_error", err), &TransportError{Method: method, URL: path, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", contentTypeJSON)

	start := time.Now()
	res, err := c.es.Transport.Perform(req)
	if err != nil {
		c.metrics.ObserveEngineRequest(method, 0, time.Since(start))
		c.logger.Error("engine request failed", "method", method, "path", path, "err", err.Error())
		resp := c.synthesize(method, path, "transport_error", err)
		c.record(method, req.URL, resp)
		return resp, &TransportError{Method: method, URL: path, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		c.metrics.ObserveEngineRequest(method, res.StatusCode, time.Since(start))
		c.logger.Error("could not read engine response", "method", method, "path", path, "err", err.Error())
		resp := c.synthesize(method, path, "transport_error", err)
		resp.StatusCode = res.StatusCode
		c.record(method, req.URL, resp)
		return resp, &TransportError{Method: method, URL: path, Err: err}
	}
	c.metrics.ObserveEngineRequest(method, res.StatusCode, time.Since(start))

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	resp := &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       raw,
	}
	c.record(method, req.URL, resp)

	if engineErr := parseEngineError(res.StatusCode, raw); engineErr != nil {
		c.logger.Error("engine returned an error",
			"time", time.Now().UTC().Format(time.RFC3339),
			"message", engineErr.Error(),
			"method", method,
			"path", path,
			"request", truncate(string(body), maxLoggedRequestBody),
		)
		return resp, engineErr
	}

	return resp, nil
}

func (c *Client) synthesize(method string, path string, code string, err error) *Response {
	body, _ := json.Marshal(ErrorEnvelope{Error: ErrorDetail{
		Code:    code,
		Message: err.Error(),
		Data:    map[string]any{"method": method, "path": path},
	}})
	return &Response{Body: body, Header: http.Header{}}
}

func (c *Client) record(method string, u *url.URL, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	params := u.RawQuery
	target := *u
	target.RawQuery = ""
	c.last = LastRequest{
		Time:            time.Now().UTC(),
		Method:          method,
		URL:             target.String(),
		Params:          params,
		ResponseCode:    resp.StatusCode,
		ResponseHeaders: resp.Header,
		RawResponse:     string(resp.Body),
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + "..."
}
