// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog is the HTTP client for the catalog search and metacard
// endpoints. Client implements query.Searcher for per-source searches and
// result.Fetcher for single-record refresh, validation, and preview.
package catalog

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
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/httputil"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/secrets"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// ErrNotFound is returned when the catalog has no record for an identity.
var ErrNotFound = errors.New("metacard not found")

// Client talks to one catalog endpoint.
type Client struct {
	HTTP  *http.Client
	cfg   types.CatalogConfig
	creds secrets.Credentials
	log   *zap.Logger
}

// New creates a client for cfg. Empty credentials disable basic auth.
func New(cfg types.CatalogConfig, creds secrets.Credentials, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP:  &http.Client{Timeout: timeout},
		cfg:   cfg,
		creds: creds,
		log:   log.With(zap.String("endpoint", cfg.Endpoint)),
	}
}

// searchRequest is the body of a search call against one source.
type searchRequest struct {
	CQL   string           `json:"cql"`
	Src   string           `json:"src"`
	Start int              `json:"start"`
	Count int              `json:"count"`
	Sorts []types.SortSpec `json:"sorts,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Metacard types.Metacard `json:"metacard"`
	} `json:"results"`
	Status wireStatus `json:"status"`
}

// wireStatus mirrors the status block; elapsed is reported in milliseconds.
type wireStatus struct {
	ID         string `json:"id"`
	Count      int    `json:"count"`
	Hits       int64  `json:"hits"`
	Successful *bool  `json:"successful"`
	Elapsed    int64  `json:"elapsed"`
}

// Search runs q against one source and returns its status block and page of
// metacards. Transport failures are returned as errors; a response whose
// status reports failure is returned as-is.
func (c *Client) Search(ctx context.Context, q types.QueryDescriptor, sourceID string) (types.SourceResponse, error) {
	count := q.PageSize
	if count <= 0 {
		count = c.cfg.PageSize
	}
	body, err := json.Marshal(searchRequest{
		CQL:   q.CQL,
		Src:   sourceID,
		Start: max(q.StartIndex, 1),
		Count: count,
		Sorts: q.Sort,
	})
	if err != nil {
		return types.SourceResponse{}, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.SearchPath, nil, bytes.NewReader(body))
	if err != nil {
		return types.SourceResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var sr searchResponse
	if err := c.doJSON(req, &sr); err != nil {
		return types.SourceResponse{}, fmt.Errorf("searching %s: %w", sourceID, err)
	}

	resp := types.SourceResponse{
		Status: types.SourceStatus{
			ID:         sourceID,
			Count:      sr.Status.Count,
			Hits:       sr.Status.Hits,
			Successful: sr.Status.Successful,
			Elapsed:    time.Duration(sr.Status.Elapsed) * time.Millisecond,
		},
	}
	if resp.Status.Successful == nil {
		resp.Status.Successful = types.Bool(true)
	}
	for _, r := range sr.Results {
		m := r.Metacard
		if m.SourceID == "" {
			if s, ok := m.Properties["source-id"].(string); ok {
				m.SourceID = s
			} else {
				m.SourceID = sourceID
			}
		}
		resp.Results = append(resp.Results, m)
	}
	if resp.Status.Count == 0 {
		resp.Status.Count = len(resp.Results)
	}

	c.log.Debug("source responded",
		zap.String("source", sourceID),
		zap.Int("count", resp.Status.Count),
		zap.Int64("hits", resp.Status.Hits))
	return resp, nil
}

// FetchMetacard fetches the current attributes of one record.
func (c *Client) FetchMetacard(ctx context.Context, key identity.Key) (types.Metacard, error) {
	src, id := key.Split()
	req, err := c.newRequest(ctx, http.MethodGet, c.metacardPath(id, ""), sourceParams(src), nil)
	if err != nil {
		return types.Metacard{}, err
	}
	var m types.Metacard
	if err := c.doJSON(req, &m); err != nil {
		return types.Metacard{}, fmt.Errorf("fetching %s: %w", key, err)
	}
	if m.ID == "" {
		m.ID = id
	}
	if m.SourceID == "" {
		m.SourceID = src
	}
	return m, nil
}

// FetchValidation fetches the attribute validation issues of one record.
func (c *Client) FetchValidation(ctx context.Context, key identity.Key) ([]types.ValidationIssue, error) {
	src, id := key.Split()
	req, err := c.newRequest(ctx, http.MethodGet, c.metacardPath(id, "validation"), sourceParams(src), nil)
	if err != nil {
		return nil, err
	}
	var issues []types.ValidationIssue
	if err := c.doJSON(req, &issues); err != nil {
		return nil, fmt.Errorf("fetching validation for %s: %w", key, err)
	}
	return issues, nil
}

// FetchPreview fetches the rendered HTML preview of one record.
func (c *Client) FetchPreview(ctx context.Context, key identity.Key) (string, error) {
	src, id := key.Split()
	req, err := c.newRequest(ctx, http.MethodGet, c.metacardPath(id, "preview"), sourceParams(src), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("fetching preview for %s: %w", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading preview for %s: %w", key, err)
	}
	return string(data), nil
}

func (c *Client) metacardPath(id, suffix string) string {
	p := strings.TrimSuffix(c.cfg.MetacardPath, "/") + "/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func sourceParams(src string) url.Values {
	return url.Values{"storeId": {src}}
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	u := strings.TrimSuffix(c.cfg.Endpoint, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if !c.creds.Empty() {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
	return req, nil
}

// do sends req with retry on 429/503 and maps non-200 statuses to errors.
// The caller closes the body of a successful response.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := httputil.DoWithRetry(req.Context(), c.HTTP, req, c.cfg.MaxRetries, c.log)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if len(msg) > 0 {
			return nil, fmt.Errorf("catalog returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return nil, fmt.Errorf("catalog returned HTTP %d", resp.StatusCode)
	}
}

func (c *Client) doJSON(req *http.Request, v any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
