package metronome

import "time"

// Event is a single usage event. Per Metronome guidance property keys and
// values are strings, even numeric-looking ones like "1"; Metronome parses
// numeric strings with arbitrary-precision decimals for aggregation.
type Event struct {
	CustomerID    string            // Metronome customer ID or attached ingest alias
	EventType     string            // stable event name
	Timestamp     time.Time         // event occurrence, converted to UTC on the wire
	TransactionID string            // unique idempotency key (enables safe retries upstream)
	Properties    map[string]string // optional
}

// PropertyFilter constrains which events a metric aggregates, e.g. requiring
// a property to exist.
type PropertyFilter struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// MetricParams are the inputs to CreateBillableMetric. Zero values fall back
// to the demo's dimensional pricing defaults: SUM over "num_images", grouped
// by the client's configured group keys. AggregationKey distinguishes unset
// (nil, use default) from explicitly empty (omit from the payload).
type MetricParams struct {
	Name            string
	EventType       string
	AggregationType string
	AggregationKey  *string
	GroupKeys       [][]string
	PropertyFilters []PropertyFilter
}

type BillableMetric struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	AggregationType string           `json:"aggregation_type,omitempty"`
	AggregationKey  string           `json:"aggregation_key,omitempty"`
	GroupKeys       [][]string       `json:"group_keys,omitempty"`
	PropertyFilters []PropertyFilter `json:"property_filters,omitempty"`
}

type ProductParams struct {
	Name                 string
	BillableMetricID     string
	PricingGroupKey      []string
	PresentationGroupKey []string
}

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type RateCard struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type FlatRateParams struct {
	RateCardID         string
	ProductID          string
	PriceCents         int
	StartingAt         string            // RFC3339 effective date
	PricingGroupValues map[string]string // single dimension value, e.g. image_type
}

type FlatRate struct {
	ID string `json:"id"`
}

type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
