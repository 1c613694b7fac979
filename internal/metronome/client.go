// Package metronome wraps the Metronome REST API so the HTTP handlers can
// stay thin and consistent.
//
// Notes
//   - Timestamps go out as RFC3339 strings in UTC with a trailing "Z",
//     truncated to whole seconds.
//   - Responses arrive inside a {"data": ...} envelope.
package metronome

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

type Client struct {
	bearerToken string
	baseURL     string
	httpClient  *http.Client

	// defaultGroupKeys backs CreateBillableMetric when params leave
	// GroupKeys nil.
	defaultGroupKeys [][]string

	breaker *gobreaker.CircuitBreaker
}

func New(bearerToken, baseURL string, defaultGroupKeys [][]string) *Client {
	settings := gobreaker.Settings{
		Name:        "metronome",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		bearerToken:      bearerToken,
		baseURL:          baseURL,
		httpClient:       http.DefaultClient,
		defaultGroupKeys: defaultGroupKeys,
		breaker:          gobreaker.NewCircuitBreaker(settings),
	}
}

type ingestEvent struct {
	CustomerID    string            `json:"customer_id"`
	EventType     string            `json:"event_type"`
	Timestamp     string            `json:"timestamp"`
	TransactionID string            `json:"transaction_id"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// SendUsageEvent sends exactly one event as a single-element batch. Failures
// propagate to the caller unmodified; the HTTP boundary translates them.
func (c *Client) SendUsageEvent(ctx context.Context, ev Event) error {
	body := []ingestEvent{{
		CustomerID:    ev.CustomerID,
		EventType:     ev.EventType,
		Timestamp:     toRFC3339(ev.Timestamp),
		TransactionID: ev.TransactionID,
		Properties:    ev.Properties,
	}}
	return c.do(ctx, http.MethodPost, "/ingest", body, nil)
}

// toRFC3339 serializes to RFC3339 (UTC, whole seconds, trailing Z).
func toRFC3339(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

type metricCreateRequest struct {
	Name            string           `json:"name"`
	AggregationType string           `json:"aggregation_type"`
	AggregationKey  string           `json:"aggregation_key,omitempty"`
	EventTypeFilter eventTypeFilter  `json:"event_type_filter"`
	GroupKeys       [][]string       `json:"group_keys"`
	PropertyFilters []PropertyFilter `json:"property_filters,omitempty"`
}

type eventTypeFilter struct {
	InValues []string `json:"in_values"`
}

// CreateBillableMetric creates a billable metric for the given event type.
// A response without a data payload yields an empty metric and no error.
func (c *Client) CreateBillableMetric(ctx context.Context, params MetricParams) (*BillableMetric, error) {
	req := metricCreateRequest{
		Name:            params.Name,
		AggregationType: params.AggregationType,
		EventTypeFilter: eventTypeFilter{InValues: []string{params.EventType}},
	}
	if req.AggregationType == "" {
		req.AggregationType = "SUM"
	}
	if params.AggregationKey != nil {
		req.AggregationKey = *params.AggregationKey
	} else {
		req.AggregationKey = "num_images"
	}
	req.GroupKeys = params.GroupKeys
	if req.GroupKeys == nil {
		req.GroupKeys = c.defaultGroupKeys
	}
	req.PropertyFilters = params.PropertyFilters

	var out struct {
		Data *BillableMetric `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/billable-metrics/create", req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return &BillableMetric{}, nil
	}
	return out.Data, nil
}

// GetBillableMetric retrieves a metric by ID. A 404 returns (nil, nil) so
// callers can fall through to a name-based lookup.
func (c *Client) GetBillableMetric(ctx context.Context, id string) (*BillableMetric, error) {
	var out struct {
		Data *BillableMetric `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/billable-metrics/"+id, nil, &out)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListBillableMetrics returns all non-archived metrics.
func (c *Client) ListBillableMetrics(ctx context.Context) ([]BillableMetric, error) {
	var out struct {
		Data []BillableMetric `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/billable-metrics?include_archived=false", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type productCreateRequest struct {
	Name                 string   `json:"name"`
	Type                 string   `json:"type"`
	BillableMetricID     string   `json:"billable_metric_id"`
	PricingGroupKey      []string `json:"pricing_group_key,omitempty"`
	PresentationGroupKey []string `json:"presentation_group_key,omitempty"`
}

func (c *Client) CreateProduct(ctx context.Context, params ProductParams) (*Product, error) {
	req := productCreateRequest{
		Name:                 params.Name,
		Type:                 "USAGE",
		BillableMetricID:     params.BillableMetricID,
		PricingGroupKey:      params.PricingGroupKey,
		PresentationGroupKey: params.PresentationGroupKey,
	}
	var out struct {
		Data *Product `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/contract-pricing/products/create", req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return &Product{}, nil
	}
	return out.Data, nil
}

func (c *Client) CreateRateCard(ctx context.Context, name string) (*RateCard, error) {
	req := map[string]string{"name": name}
	var out struct {
		Data *struct {
			ID         string `json:"id"`
			RateCardID string `json:"rate_card_id"`
			Name       string `json:"name"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/contract-pricing/rate-cards/create", req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return &RateCard{}, nil
	}
	// Some responses carry the ID under rate_card_id instead of id.
	rc := &RateCard{ID: out.Data.ID, Name: out.Data.Name}
	if rc.ID == "" {
		rc.ID = out.Data.RateCardID
	}
	return rc, nil
}

type flatRateRequest struct {
	RateCardID         string            `json:"rate_card_id"`
	ProductID          string            `json:"product_id"`
	RateType           string            `json:"rate_type"`
	Price              int               `json:"price"`
	StartingAt         string            `json:"starting_at"`
	PricingGroupValues map[string]string `json:"pricing_group_values,omitempty"`
}

// AddFlatRate scopes a FLAT rate to a rate card, product, price in cents,
// effective date, and a single pricing dimension value.
func (c *Client) AddFlatRate(ctx context.Context, params FlatRateParams) (*FlatRate, error) {
	req := flatRateRequest{
		RateCardID:         params.RateCardID,
		ProductID:          params.ProductID,
		RateType:           "FLAT",
		Price:              params.PriceCents,
		StartingAt:         params.StartingAt,
		PricingGroupValues: params.PricingGroupValues,
	}
	var out struct {
		Data *struct {
			ID     string `json:"id"`
			RateID string `json:"rate_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/contract-pricing/rate-cards/add-rate", req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return &FlatRate{}, nil
	}
	r := &FlatRate{ID: out.Data.ID}
	if r.ID == "" {
		r.ID = out.Data.RateID
	}
	return r, nil
}

// ListCustomers is used by the connection-check CLI to verify the token.
func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out struct {
		Data []Customer `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/customers", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// errNotFound marks a 404 so GetBillableMetric can map it to (nil, nil)
// without counting it as a breaker failure.
var errNotFound = errors.New("metronome: resource not found")

type apiResult struct {
	body     []byte
	notFound bool
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var payload io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		payload = bytes.NewBuffer(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.bearerToken))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return apiResult{notFound: true}, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("metronome api error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return apiResult{body: respBody}, nil
	})
	if err != nil {
		return err
	}

	res := result.(apiResult)
	if res.notFound {
		return errNotFound
	}
	if out != nil && len(res.body) > 0 {
		if err := json.Unmarshal(res.body, out); err != nil {
			return fmt.Errorf("metronome: decode response: %w", err)
		}
	}
	return nil
}
