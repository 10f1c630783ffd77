package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

const (
	ordersPath   = "/wp-json/wc/v3/orders"
	productsPath = "/wp-json/wc/v3/products/"
	userAgent    = "DataLens/1.0"
	maxPages     = 10000

	// Failed name lookups are retried after this long.
	nameMissTTL = 10 * time.Minute
)

// WooConfig configures a WooCommerce REST API client.
type WooConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	PageSize       int
	Timeout        time.Duration

	// Dial overrides the TCP dialer. Tests use it with an in-memory listener.
	Dial fasthttp.DialFunc
}

// Woo reads orders and product names through the WooCommerce REST API. The
// API hides whether the store uses HPOS or post-based order storage.
type Woo struct {
	client   *fasthttp.Client
	baseURL  string
	auth     string
	pageSize int
	timeout  time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	names map[int64]cachedName
	now   func() time.Time
}

// cachedName is a resolved name, or a miss when retryAt is set.
type cachedName struct {
	name    string
	retryAt time.Time
}

func NewWoo(cfg WooConfig, logger *slog.Logger) *Woo {
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	creds := cfg.ConsumerKey + ":" + cfg.ConsumerSecret
	return &Woo{
		client: &fasthttp.Client{
			Name:                userAgent,
			Dial:                cfg.Dial,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		auth:     "Basic " + base64.StdEncoding.EncodeToString([]byte(creds)),
		pageSize: cfg.PageSize,
		timeout:  cfg.Timeout,
		logger:   logger,
		names:    map[int64]cachedName{},
		now:      time.Now,
	}
}

type wooOrder struct {
	ID             int64           `json:"id"`
	Status         string          `json:"status"`
	Total          decimal.Decimal `json:"total"`
	DateCreatedGMT string          `json:"date_created_gmt"`
	CustomerID     int64           `json:"customer_id"`
	PaymentMethod  string          `json:"payment_method"`
	ShippingLines  []struct {
		MethodID string `json:"method_id"`
	} `json:"shipping_lines"`
	LineItems []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"line_items"`
}

// The REST API reports GMT dates without a zone designator.
const wooDateLayout = "2006-01-02T15:04:05"

func (w wooOrder) toOrder() (Order, error) {
	created, err := time.ParseInLocation(wooDateLayout, w.DateCreatedGMT, time.UTC)
	if err != nil {
		return Order{}, fmt.Errorf("order %d: date_created_gmt: %w", w.ID, err)
	}
	o := Order{
		ID:            w.ID,
		Type:          TypeOrder,
		Status:        w.Status,
		Total:         w.Total,
		DateCreated:   created,
		CustomerID:    w.CustomerID,
		PaymentMethod: w.PaymentMethod,
	}
	if len(w.ShippingLines) > 0 {
		o.ShippingMethod = w.ShippingLines[0].MethodID
	}
	for _, li := range w.LineItems {
		o.Items = append(o.Items, Item{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return o, nil
}

// Orders pages through every order in SyncStatuses, oldest first.
func (w *Woo) Orders(ctx context.Context, since *time.Time) ([]Order, error) {
	var out []Order
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(w.pageSize))
		q.Set("page", strconv.Itoa(page))
		q.Set("orderby", "date")
		q.Set("order", "asc")
		q.Set("status", strings.Join(SyncStatuses, ","))
		if since != nil {
			// "after" is exclusive; step back one second to include since itself.
			q.Set("after", since.UTC().Add(-time.Second).Format(wooDateLayout))
			q.Set("dates_are_gmt", "true")
		}

		body, totalPages, err := w.get(ctx, ordersPath+"?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("listing orders page %d: %w", page, err)
		}
		var batch []wooOrder
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decoding orders page %d: %w", page, err)
		}
		for _, wo := range batch {
			o, err := wo.toOrder()
			if err != nil {
				w.logger.Warn("skipping unreadable source order", "error", err)
				continue
			}
			out = append(out, o)
		}

		if len(batch) < w.pageSize || (totalPages > 0 && page >= totalPages) {
			break
		}
	}
	return out, nil
}

// ProductName resolves a product's display name. Names are cached for the
// life of the client, failed lookups for nameMissTTL.
func (w *Woo) ProductName(ctx context.Context, productID int64) (string, bool) {
	w.mu.Lock()
	c, cached := w.names[productID]
	w.mu.Unlock()
	if cached && (c.retryAt.IsZero() || w.now().Before(c.retryAt)) {
		return c.name, c.name != ""
	}

	name, err := w.fetchName(ctx, productID)
	if err != nil {
		w.logger.Debug("product name lookup failed", "product_id", productID, "error", err)
		if ctx.Err() != nil {
			return "", false
		}
	}

	c = cachedName{name: name}
	if name == "" {
		c.retryAt = w.now().Add(nameMissTTL)
	}
	w.mu.Lock()
	w.names[productID] = c
	w.mu.Unlock()
	return name, name != ""
}

func (w *Woo) fetchName(ctx context.Context, productID int64) (string, error) {
	body, _, err := w.get(ctx, productsPath+strconv.FormatInt(productID, 10))
	if err != nil {
		return "", err
	}
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("decoding product %d: %w", productID, err)
	}
	return p.Name, nil
}

func (w *Woo) get(ctx context.Context, pathAndQuery string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.baseURL + pathAndQuery)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", w.auth)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status %d", code)
	}

	totalPages, _ := strconv.Atoi(string(resp.Header.Peek("X-WP-TotalPages")))
	body := append([]byte(nil), resp.Body()...)
	return body, totalPages, nil
}
