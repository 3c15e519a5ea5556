// Package orderclient reads orders from the order service for the dispute and review
// validators. Every failure other than a definite 404 is reported as unavailable so callers
// fail closed.
package orderclient

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
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/config"
	"github.com/furnishop/commerce/internal/platform/observability"
	"github.com/furnishop/commerce/internal/platform/requestctx"
)

const (
	defaultTimeout   = 3 * time.Second
	maxErrorBodySize = 4 << 10
)

var tracer = otel.Tracer("github.com/furnishop/commerce/internal/orderclient")

// TokenMinter issues bearer tokens identifying the calling service.
type TokenMinter interface {
	Mint(service string) (string, error)
}

// Client issues read calls against the order service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenMinter
	caller  string
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout bounds every call made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithServiceToken authenticates calls with tokens minted for caller.
func WithServiceToken(tokens TokenMinter, caller string) Option {
	return func(c *Client) {
		c.tokens = tokens
		c.caller = strings.TrimSpace(caller)
	}
}

// New resolves the order service base URL from the registry once.
func New(registry config.ServiceRegistry, opts ...Option) (*Client, error) {
	baseURL, ok := registry.URL(config.OrderServiceName)
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("orderclient: service registry has no %q entry", config.OrderServiceName)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("orderclient: order id is required")
	}
	endpoint, err := url.JoinPath(c.baseURL, "api", "orders", orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var payload orderPayload
	if err := c.get(ctx, "GetOrder", endpoint, &payload); err != nil {
		return domain.Order{}, err
	}
	order, err := payload.toDomain()
	if err != nil {
		return domain.Order{}, unavailable("GetOrder", 0, err)
	}
	return order, nil
}

// ListOrders returns up to limit orders of the customer. Both {"items": [...]} and bare
// array responses are accepted.
func (c *Client) ListOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	endpoint, err := url.JoinPath(c.baseURL, "api", "orders")
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("customerId", strings.TrimSpace(customerID))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	endpoint += "?" + query.Encode()

	var raw json.RawMessage
	if err := c.get(ctx, "ListOrders", endpoint, &raw); err != nil {
		return nil, err
	}
	payloads, err := decodeOrderList(raw)
	if err != nil {
		return nil, unavailable("ListOrders", 0, err)
	}

	orders := make([]domain.Order, 0, len(payloads))
	for _, payload := range payloads {
		order, err := payload.toDomain()
		if err != nil {
			return nil, unavailable("ListOrders", 0, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// HasDeliveredOrderWithProduct asks the order service whether the customer received the product.
func (c *Client) HasDeliveredOrderWithProduct(ctx context.Context, customerID, productID string) (bool, error) {
	endpoint, err := url.JoinPath(c.baseURL, "api", "customers", strings.TrimSpace(customerID), "delivered-products", strings.TrimSpace(productID))
	if err != nil {
		return false, err
	}
	var payload struct {
		Delivered *bool `json:"delivered"`
	}
	if err := c.get(ctx, "HasDeliveredOrderWithProduct", endpoint, &payload); err != nil {
		return false, err
	}
	if payload.Delivered == nil {
		return false, unavailable("HasDeliveredOrderWithProduct", 0, errors.New("response missing delivered flag"))
	}
	return *payload.Delivered, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, out any) (err error) {
	ctx, span := tracer.Start(ctx, "orderclient."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return unavailable(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if id := requestctx.RequestID(ctx); id != "" {
		req.Header.Set(observability.RequestIDHeader, id)
	}
	if c.tokens != nil {
		token, err := c.tokens.Mint(c.caller)
		if err != nil {
			return unavailable(op, 0, fmt.Errorf("mint service token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	observability.InjectTraceHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return unavailable(op, 0, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Op: op, Status: resp.StatusCode, notFound: true, Err: errors.New(drainError(resp.Body))}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return unavailable(op, resp.StatusCode, fmt.Errorf("order service rejected service credentials (status %d)", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return unavailable(op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, drainError(resp.Body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return unavailable(op, resp.StatusCode, err)
	}
	if err := json.Unmarshal(unwrapData(body), out); err != nil {
		return unavailable(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// unwrapData strips a {"data": ...} success envelope when present.
func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return envelope.Data
	}
	return trimmed
}

func decodeOrderList(raw json.RawMessage) ([]orderPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []orderPayload
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped struct {
		Items *[]orderPayload `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Items == nil {
		return nil, errors.New("order list response has no items")
	}
	return *wrapped.Items, nil
}

func drainError(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	return strings.TrimSpace(string(data))
}

type orderPayload struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customerId"`
	BranchID   string             `json:"branchId"`
	Status     string             `json:"status"`
	Items      []orderItemPayload `json:"items"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

type orderItemPayload struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (p orderPayload) toDomain() (domain.Order, error) {
	if strings.TrimSpace(p.ID) == "" {
		return domain.Order{}, errors.New("order payload missing id")
	}
	status, err := domain.ParseOrderStatus(p.Status)
	if err != nil {
		return domain.Order{}, err
	}
	items := make([]domain.OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return domain.Order{
		ID:         strings.TrimSpace(p.ID),
		CustomerID: strings.TrimSpace(p.CustomerID),
		BranchID:   strings.TrimSpace(p.BranchID),
		Status:     status,
		Items:      items,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}
