package metronome

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	c := New("test-key", serverURL, [][]string{{"image_type"}})
	return c
}

func TestSendUsageEvent_SingleEventBatch(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.FixedZone("PST", -8*3600))
	err := c.SendUsageEvent(context.Background(), Event{
		CustomerID:    "nova-demo",
		EventType:     "image_generation",
		Timestamp:     ts,
		TransactionID: "tx-1",
		Properties:    map[string]string{"num_images": "1", "image_type": "ultra"},
	})
	if err != nil {
		t.Fatalf("SendUsageEvent failed: %v", err)
	}

	if gotPath != "/ingest" {
		t.Errorf("Expected /ingest path, got %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if len(gotBody) != 1 {
		t.Fatalf("Expected single-element batch, got %d events", len(gotBody))
	}

	ev := gotBody[0]
	// UTC, whole seconds, trailing Z
	if ev["timestamp"] != "2026-03-14T17:26:53Z" {
		t.Errorf("Expected truncated UTC timestamp, got %v", ev["timestamp"])
	}
	if ev["customer_id"] != "nova-demo" || ev["transaction_id"] != "tx-1" {
		t.Errorf("Event fields not forwarded: %v", ev)
	}
	props := ev["properties"].(map[string]interface{})
	if props["num_images"] != "1" {
		t.Errorf("Expected string num_images, got %v", props["num_images"])
	}
}

func TestCreateBillableMetric_Defaults(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "bm-1", "name": "Nova Image Generation"},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	metric, err := c.CreateBillableMetric(context.Background(), MetricParams{
		Name:      "Nova Image Generation",
		EventType: "image_generation",
	})
	if err != nil {
		t.Fatalf("CreateBillableMetric failed: %v", err)
	}
	if metric.ID != "bm-1" {
		t.Errorf("Expected bm-1, got %s", metric.ID)
	}

	if gotBody["aggregation_type"] != "SUM" {
		t.Errorf("Expected SUM default, got %v", gotBody["aggregation_type"])
	}
	if gotBody["aggregation_key"] != "num_images" {
		t.Errorf("Expected num_images default, got %v", gotBody["aggregation_key"])
	}
	filter := gotBody["event_type_filter"].(map[string]interface{})
	inValues := filter["in_values"].([]interface{})
	if len(inValues) != 1 || inValues[0] != "image_generation" {
		t.Errorf("Expected event_type_filter wrapping the event type, got %v", filter)
	}
	groupKeys := gotBody["group_keys"].([]interface{})
	if len(groupKeys) != 1 {
		t.Errorf("Expected client default group keys, got %v", groupKeys)
	}
}

func TestCreateBillableMetric_OmitsEmptyAggregationKey(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"id": "bm-2"}})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	empty := ""
	_, err := c.CreateBillableMetric(context.Background(), MetricParams{
		Name:            "Counter",
		EventType:       "image_generation",
		AggregationType: "COUNT",
		AggregationKey:  &empty,
	})
	if err != nil {
		t.Fatalf("CreateBillableMetric failed: %v", err)
	}
	if _, present := gotBody["aggregation_key"]; present {
		t.Errorf("Expected aggregation_key omitted, got %v", gotBody["aggregation_key"])
	}
}

func TestCreateBillableMetric_DegradedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	metric, err := c.CreateBillableMetric(context.Background(), MetricParams{
		Name:      "Nova Image Generation",
		EventType: "image_generation",
	})
	if err != nil {
		t.Fatalf("Expected degraded success, got error: %v", err)
	}
	if metric == nil || metric.ID != "" {
		t.Errorf("Expected empty metric, got %+v", metric)
	}
}

func TestGetBillableMetric_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	metric, err := c.GetBillableMetric(context.Background(), "bm-gone")
	if err != nil {
		t.Fatalf("Expected nil error for 404, got %v", err)
	}
	if metric != nil {
		t.Errorf("Expected nil metric for 404, got %+v", metric)
	}
}

func TestListBillableMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("include_archived") != "false" {
			t.Errorf("Expected include_archived=false, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"id": "bm-1", "name": "Nova Image Generation"},
				{"id": "bm-2", "name": "Other"},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	metrics, err := c.ListBillableMetrics(context.Background())
	if err != nil {
		t.Fatalf("ListBillableMetrics failed: %v", err)
	}
	if len(metrics) != 2 || metrics[0].ID != "bm-1" {
		t.Errorf("Unexpected metrics: %+v", metrics)
	}
}

func TestAPIError_SurfacesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad token"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.SendUsageEvent(context.Background(), Event{Timestamp: time.Now()})
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "status 401") || !strings.Contains(err.Error(), "bad token") {
		t.Errorf("Expected status and body in error, got %v", err)
	}
}

func TestCreateRateCard_AlternateIDKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"rate_card_id": "rc-1", "name": "Nova Launch Pricing"},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	rc, err := c.CreateRateCard(context.Background(), "Nova Launch Pricing")
	if err != nil {
		t.Fatalf("CreateRateCard failed: %v", err)
	}
	if rc.ID != "rc-1" {
		t.Errorf("Expected rate_card_id fallback, got %q", rc.ID)
	}
}

func TestAddFlatRate_RequestShape(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"id": "rate-1"}})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	rate, err := c.AddFlatRate(context.Background(), FlatRateParams{
		RateCardID:         "rc-1",
		ProductID:          "p-1",
		PriceCents:         500,
		StartingAt:         "2025-01-01T00:00:00Z",
		PricingGroupValues: map[string]string{"image_type": "ultra"},
	})
	if err != nil {
		t.Fatalf("AddFlatRate failed: %v", err)
	}
	if rate.ID != "rate-1" {
		t.Errorf("Expected rate-1, got %s", rate.ID)
	}
	if gotBody["rate_type"] != "FLAT" {
		t.Errorf("Expected FLAT rate_type, got %v", gotBody["rate_type"])
	}
	if gotBody["price"] != float64(500) {
		t.Errorf("Expected price 500, got %v", gotBody["price"])
	}
	pgv := gotBody["pricing_group_values"].(map[string]interface{})
	if pgv["image_type"] != "ultra" {
		t.Errorf("Expected image_type dimension, got %v", pgv)
	}
}
