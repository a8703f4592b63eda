package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storefront/internal/domain"
	"storefront/internal/money"
)

const (
	DefaultTTL     = 30 * time.Second
	defaultTimeout = 5 * time.Second
)

type cacheEntry struct {
	items   []domain.CatalogItem
	fetched time.Time
}

// Client fetches catalogs from the backend. Concurrent loads of one path share
// a single request, and results are cached for ttl.
type Client struct {
	http    *resty.Client
	baseURL string
	ttl     time.Duration
	log     *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

func NewClient(baseURL string, ttl time.Duration, logger *zap.Logger) *Client {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		log:     logger,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Source binds the client to one catalog path, e.g. "/api/ebooks".
func (c *Client) Source(path string) Source {
	return pathSource{client: c, path: path}
}

type pathSource struct {
	client *Client
	path   string
}

func (s pathSource) Items(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.client.Fetch(ctx, s.path)
}

// Fetch returns the items at path. The caller's ctx bounds how long it waits;
// an in-flight shared request keeps running for the other waiters.
func (c *Client) Fetch(ctx context.Context, path string) ([]domain.CatalogItem, error) {
	if items, ok := c.cached(path); ok {
		return items, nil
	}

	ch := c.group.DoChan(path, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer cancel()
		items, err := c.load(fctx, path)
		if err != nil {
			return nil, err
		}
		c.store(path, items)
		return items, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		items := res.Val.([]domain.CatalogItem)
		out := make([]domain.CatalogItem, len(items))
		copy(out, items)
		return out, nil
	}
}

// Invalidate drops the cached catalog of path.
func (c *Client) Invalidate(path string) {
	c.mu.Lock()
	delete(c.cache, path)
	c.mu.Unlock()
}

func (c *Client) cached(path string) ([]domain.CatalogItem, bool) {
	if c.ttl == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[path]
	if !ok || c.now().Sub(e.fetched) > c.ttl {
		return nil, false
	}
	out := make([]domain.CatalogItem, len(e.items))
	copy(out, e.items)
	return out, true
}

func (c *Client) store(path string, items []domain.CatalogItem) {
	if c.ttl == 0 {
		return
	}
	c.mu.Lock()
	c.cache[path] = cacheEntry{items: items, fetched: c.now()}
	c.mu.Unlock()
}

func (c *Client) load(ctx context.Context, path string) ([]domain.CatalogItem, error) {
	endpoint := c.baseURL + path

	resp, err := c.http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCatalogFetch, endpoint, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", domain.ErrCatalogFetch, endpoint, resp.StatusCode())
	}

	wire, err := decodeItems(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCatalogFetch, endpoint, err)
	}

	items := make([]domain.CatalogItem, 0, len(wire))
	for _, w := range wire {
		it := w.toItem()
		if it.ID == "" {
			c.log.Warn("catalog item without id skipped",
				zap.String("path", path),
				zap.String("title", it.Title),
			)
			continue
		}
		items = append(items, it)
	}
	c.log.Debug("catalog loaded", zap.String("path", path), zap.Int("items", len(items)))
	return items, nil
}

// wireItem tolerates the field names used across the backend's catalog endpoints.
type wireItem struct {
	ID               string `json:"id"`
	MongoID          string `json:"_id"`
	Title            string `json:"title"`
	Name             string `json:"name"`
	DownloadURL      string `json:"downloadUrl"`
	FileURL          string `json:"fileUrl"`
	PDFURL           string `json:"pdfUrl"`
	PaymentLink      string `json:"paymentLink"`
	PaymentLinkSnake string `json:"payment_link"`
	Price            any    `json:"price"`
}

func (w wireItem) toItem() domain.CatalogItem {
	return domain.CatalogItem{
		ID:          firstNonEmpty(w.ID, w.MongoID),
		Title:       firstNonEmpty(w.Title, w.Name),
		DownloadURL: firstNonEmpty(w.DownloadURL, w.FileURL, w.PDFURL),
		PaymentLink: firstNonEmpty(w.PaymentLink, w.PaymentLinkSnake),
		Price:       parsePrice(w.Price),
	}
}

func decodeItems(body []byte) ([]wireItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if body[0] == '[' {
		var items []wireItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var envelope struct {
		Data  []wireItem `json:"data"`
		Items []wireItem `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return envelope.Items, nil
}

func parsePrice(v any) money.Cents {
	switch p := v.(type) {
	case float64:
		return money.FromMajor(p)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0
		}
		return money.FromMajor(f)
	default:
		return 0
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
