// Package paperless reads documents and their reference data from a Paperless-ngx instance.
package paperless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ragbridge/internal/dms"
)

const Engine = "paperless"

const (
	DefaultPageSize = 300
	DefaultTimeout  = 30 * time.Second
)

type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	// RequestsPerSecond caps the request rate against the DMS. Zero disables the limit.
	RequestsPerSecond float64
	Timeout           time.Duration
}

type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	snapshot atomic.Pointer[dms.Snapshot]
	version  atomic.Uint64
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("paperless: base url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("paperless: api token is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("paperless: invalid base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With("dms_engine", Engine),
	}, nil
}

func (c *Client) Engine() string {
	return Engine
}

// Snapshot returns the snapshot of the last successful refresh, or nil.
func (c *Client) Snapshot() *dms.Snapshot {
	return c.snapshot.Load()
}

// RefreshCache loads reference data and all documents and publishes a new
// snapshot. Reference collections are best effort; failing to list the
// documents fails the refresh and keeps the previous snapshot.
func (c *Client) RefreshCache(ctx context.Context) (*dms.Snapshot, error) {
	snap := dms.NewSnapshot()

	// 1. Reference data
	if types, err := listAll[apiNamed](ctx, c, "/api/document_types/"); err != nil {
		c.logger.WarnContext(ctx, "failed to load document types", "error", err)
		snap.Partial = append(snap.Partial, "document_types")
	} else {
		for _, t := range types {
			snap.Types[t.ID] = dms.DocumentType{ID: t.ID, Name: t.Name}
		}
	}

	if users, err := listAll[apiUser](ctx, c, "/api/users/"); err != nil {
		c.logger.WarnContext(ctx, "failed to load owners", "error", err)
		snap.Partial = append(snap.Partial, "owners")
	} else {
		for _, u := range users {
			snap.Owners[u.ID] = dms.Owner{ID: u.ID, Username: u.Username}
		}
	}

	if tags, err := listAll[apiNamed](ctx, c, "/api/tags/"); err != nil {
		c.logger.WarnContext(ctx, "failed to load tags", "error", err)
		snap.Partial = append(snap.Partial, "tags")
	} else {
		for _, t := range tags {
			snap.Labels[t.ID] = dms.Label{ID: t.ID, Name: t.Name}
		}
	}

	if correspondents, err := listAll[apiNamed](ctx, c, "/api/correspondents/"); err != nil {
		c.logger.WarnContext(ctx, "failed to load correspondents", "error", err)
		snap.Partial = append(snap.Partial, "correspondents")
	} else {
		for _, cr := range correspondents {
			snap.Categories[cr.ID] = dms.Category{ID: cr.ID, Name: cr.Name}
		}
	}

	// 2. Documents
	docs, err := listAll[apiDocument](ctx, c, "/api/documents/")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	snap.Documents = make([]dms.Document, 0, len(docs))
	for _, d := range docs {
		snap.Documents = append(snap.Documents, snap.Enrich(d.toDocument()))
	}

	snap.Version = c.version.Add(1)
	c.snapshot.Store(snap)

	c.logger.InfoContext(ctx, "dms cache refreshed",
		"version", snap.Version,
		"documents", len(snap.Documents),
		"owners", len(snap.Owners),
		"tags", len(snap.Labels),
		"correspondents", len(snap.Categories),
		"document_types", len(snap.Types),
		"partial", snap.Partial,
	)
	return snap, nil
}

// ListEnrichedDocuments returns the documents of the current snapshot,
// refreshing first when there is none.
func (c *Client) ListEnrichedDocuments(ctx context.Context) ([]dms.Document, error) {
	snap := c.snapshot.Load()
	if snap == nil {
		var err error
		if snap, err = c.RefreshCache(ctx); err != nil {
			return nil, err
		}
	}
	return snap.Documents, nil
}

// GetDocument fetches one document fresh from the DMS. References are
// resolved from the current snapshot and, when missing there, fetched one by one.
func (c *Client) GetDocument(ctx context.Context, id int) (*dms.Document, error) {
	var raw apiDocument
	if err := c.getJSON(ctx, fmt.Sprintf("/api/documents/%d/", id), nil, &raw); err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}

	doc := raw.toDocument()
	if snap := c.snapshot.Load(); snap != nil {
		doc = snap.Enrich(doc)
	}
	c.resolveMissing(ctx, &doc)
	return &doc, nil
}

func (c *Client) resolveMissing(ctx context.Context, doc *dms.Document) {
	if doc.OwnerID != nil && doc.Owner == nil {
		var u apiUser
		if err := c.getJSON(ctx, fmt.Sprintf("/api/users/%d/", *doc.OwnerID), nil, &u); err != nil {
			c.logger.DebugContext(ctx, "owner not resolved", "document_id", doc.ID, "owner_id", *doc.OwnerID, "error", err)
		} else {
			doc.Owner = &dms.Owner{ID: u.ID, Username: u.Username}
		}
	}

	if doc.CategoryID != nil && doc.Category == nil {
		var n apiNamed
		if err := c.getJSON(ctx, fmt.Sprintf("/api/correspondents/%d/", *doc.CategoryID), nil, &n); err != nil {
			c.logger.DebugContext(ctx, "correspondent not resolved", "document_id", doc.ID, "error", err)
		} else {
			doc.Category = &dms.Category{ID: n.ID, Name: n.Name}
		}
	}

	if doc.TypeID != nil && doc.Type == nil {
		var n apiNamed
		if err := c.getJSON(ctx, fmt.Sprintf("/api/document_types/%d/", *doc.TypeID), nil, &n); err != nil {
			c.logger.DebugContext(ctx, "document type not resolved", "document_id", doc.ID, "error", err)
		} else {
			doc.Type = &dms.DocumentType{ID: n.ID, Name: n.Name}
		}
	}

	if len(doc.Labels) == len(doc.LabelIDs) {
		return
	}
	known := make(map[int]dms.Label, len(doc.Labels))
	for _, l := range doc.Labels {
		known[l.ID] = l
	}
	labels := make([]dms.Label, 0, len(doc.LabelIDs))
	for _, id := range doc.LabelIDs {
		if l, ok := known[id]; ok {
			labels = append(labels, l)
			continue
		}
		var n apiNamed
		if err := c.getJSON(ctx, fmt.Sprintf("/api/tags/%d/", id), nil, &n); err != nil {
			c.logger.DebugContext(ctx, "tag not resolved", "document_id", doc.ID, "tag_id", id, "error", err)
			continue
		}
		labels = append(labels, dms.Label{ID: n.ID, Name: n.Name})
	}
	doc.Labels = labels
}

// Ping checks that the DMS answers an authenticated request.
func (c *Client) Ping(ctx context.Context) error {
	var p page[json.RawMessage]
	if err := c.getJSON(ctx, "/api/documents/", url.Values{"page_size": {"1"}}, &p); err != nil {
		return fmt.Errorf("paperless: ping failed: %w", err)
	}
	return nil
}

func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	pageNum := 1
	for {
		q := url.Values{
			"page":      {strconv.Itoa(pageNum)},
			"page_size": {strconv.Itoa(c.pageSize)},
		}
		var p page[T]
		if err := c.getJSON(ctx, path, q, &p); err != nil {
			return nil, fmt.Errorf("%s page %d: %w", path, pageNum, err)
		}
		all = append(all, p.Results...)

		next, ok := nextPage(p.Next)
		if !ok || next <= pageNum {
			return all, nil
		}
		pageNum = next
	}
}

// nextPage reads the page number from the "next" link of a listing.
func nextPage(next *string) (int, bool) {
	if next == nil || *next == "" {
		return 0, false
	}
	u, err := url.Parse(*next)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return dms.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("paperless error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
