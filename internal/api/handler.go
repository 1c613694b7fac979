// Package api is the HTTP boundary: request validation, JSON shaping, and
// translation of remote failures into status codes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/novaimg/metering-gateway/config"
	"github.com/novaimg/metering-gateway/internal/metronome"
	"github.com/novaimg/metering-gateway/internal/state"
)

// Gateway is the slice of the Metronome client the handlers call directly.
type Gateway interface {
	SendUsageEvent(ctx context.Context, ev metronome.Event) error
	CreateProduct(ctx context.Context, params metronome.ProductParams) (*metronome.Product, error)
	CreateRateCard(ctx context.Context, name string) (*metronome.RateCard, error)
	AddFlatRate(ctx context.Context, params metronome.FlatRateParams) (*metronome.FlatRate, error)
}

// MetricEnsurer is the provisioning routine the setup endpoints run first.
type MetricEnsurer interface {
	EnsureMetric(ctx context.Context) (*metronome.BillableMetric, error)
}

type Handler struct {
	gateway     Gateway
	provisioner MetricEnsurer
	store       state.Store
	cfg         *config.Config
	tracer      trace.Tracer
	logger      zerolog.Logger
}

func NewHandler(gateway Gateway, provisioner MetricEnsurer, store state.Store, cfg *config.Config, tracer trace.Tracer, logger zerolog.Logger) *Handler {
	return &Handler{
		gateway:     gateway,
		provisioner: provisioner,
		store:       store,
		cfg:         cfg,
		tracer:      tracer,
		logger:      logger,
	}
}

type generateRequest struct {
	Tier          string `json:"tier"`
	TransactionID string `json:"transaction_id"`
	Model         string `json:"model"`
	Region        string `json:"region"`
}

// HandleGenerate accepts JSON and emits a usage event.
//
// Quick curl:
//
//	curl -sS -X POST http://localhost:8080/api/generate \
//	  -H 'Content-Type: application/json' \
//	  -d '{"tier":"ultra","transaction_id":"demo-001","model":"nova-v2","region":"us-west-2"}'
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	w.Header().Set("X-Request-ID", requestID)

	// A malformed or missing body falls through to tier validation.
	var req generateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	tier := strings.ToLower(strings.TrimSpace(req.Tier))
	if _, ok := config.TierPriceCents[tier]; !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "Invalid or missing 'tier'",
			"allowed": config.AllowedTiers(),
		})
		return
	}

	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "Missing 'transaction_id' (idempotency key). Provide a stable, unique string per action.",
		})
		return
	}

	// Build properties as strings per Metronome guidelines
	model := req.Model
	if model == "" {
		model = config.DefaultModel
	}
	region := req.Region
	if region == "" {
		region = config.DefaultRegion
	}
	properties := map[string]string{
		"image_type": tier,
		"num_images": "1",
		"model":      model,
		"region":     region,
	}

	// Always use server time (UTC)
	timestamp := time.Now().UTC()

	ctx, span := h.tracer.Start(r.Context(), "api.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("tier", tier),
		attribute.String("transaction_id", transactionID),
	)

	err := h.gateway.SendUsageEvent(ctx, metronome.Event{
		CustomerID:    h.cfg.CustomerAlias,
		EventType:     config.EventType,
		Timestamp:     timestamp,
		TransactionID: transactionID,
		Properties:    properties,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("transaction_id", transactionID).Msg("failed to send usage event")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf("Failed to send usage: %v", err)})
		return
	}

	h.logger.Info().
		Str("event_type", config.EventType).
		Str("tier", tier).
		Str("transaction_id", transactionID).
		Msg("sent usage event")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"event_type":     config.EventType,
		"tier":           tier,
		"ingest_alias":   h.cfg.CustomerAlias,
		"transaction_id": transactionID,
		"timestamp":      timestamp,
	})
}

// HandleSetupMetric creates or reuses the billable metric: SUM over
// "num_images" of image_generation events, grouped by image type.
func (h *Handler) HandleSetupMetric(w http.ResponseWriter, r *http.Request) {
	metric, err := h.provisioner.EnsureMetric(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create billable metric")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf("Failed to create metric: %v", err)})
		return
	}

	h.logger.Info().Str("metric_id", metric.ID).Str("metric_name", metric.Name).Msg("billable metric ready")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"metric_name": config.BillableMetricName,
		"metric":      metric,
	})
}

// HandleSetupPricing creates a product, a rate card, and one flat rate per
// tier. Only the metric step is idempotent: re-invocation creates a fresh
// product, rate card, and rates on the remote API every time.
func (h *Handler) HandleSetupPricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	metric, err := h.provisioner.EnsureMetric(ctx)
	if err != nil {
		h.pricingError(w, err)
		return
	}

	// Flatten the group-key shape to the pricing group key list.
	pricingGroupKey := make([]string, 0, len(config.BillableGroupKeys))
	for _, g := range config.BillableGroupKeys {
		pricingGroupKey = append(pricingGroupKey, g[0])
	}

	product, err := h.gateway.CreateProduct(ctx, metronome.ProductParams{
		Name:                 config.ProductName,
		BillableMetricID:     metric.ID,
		PricingGroupKey:      pricingGroupKey,
		PresentationGroupKey: pricingGroupKey,
	})
	if err != nil {
		h.pricingError(w, err)
		return
	}
	if product.ID == "" {
		h.logger.Error().Msg("product creation returned no id")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to create product"})
		return
	}

	rateCard, err := h.gateway.CreateRateCard(ctx, config.RateCardName)
	if err != nil {
		h.pricingError(w, err)
		return
	}
	if rateCard.ID == "" {
		h.logger.Error().Msg("rate card creation returned no id")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to create rate card"})
		return
	}

	// One flat rate per tier, in sorted order so runs are deterministic.
	tiers := make([]string, 0, len(config.TierPriceCents))
	for tier := range config.TierPriceCents {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	rates := make(map[string]interface{}, len(tiers))
	for _, tier := range tiers {
		cents := config.TierPriceCents[tier]
		rate, err := h.gateway.AddFlatRate(ctx, metronome.FlatRateParams{
			RateCardID:         rateCard.ID,
			ProductID:          product.ID,
			PriceCents:         cents,
			StartingAt:         config.RateEffectiveAt,
			PricingGroupValues: map[string]string{"image_type": tier},
		})
		if err != nil {
			h.pricingError(w, err)
			return
		}
		rates[tier] = map[string]interface{}{
			"id":          rate.ID,
			"price_cents": cents,
		}
	}

	// Persist IDs so future runs can reuse; a failed write is logged and
	// the request still succeeds.
	st, err := h.store.Load()
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load state, overwriting")
		st = state.State{}
	}
	st.MetricID = metric.ID
	st.ProductID = product.ID
	st.RateCardID = rateCard.ID
	if err := h.store.Save(st); err != nil {
		h.logger.Warn().Err(err).Msg("failed to save state file")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"product":   map[string]string{"id": product.ID, "name": config.ProductName},
		"rate_card": map[string]string{"id": rateCard.ID, "name": config.RateCardName},
		"rates":     rates,
	})
}

func (h *Handler) pricingError(w http.ResponseWriter, err error) {
	h.logger.Error().Err(err).Msg("failed to create pricing")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf("Failed to create pricing: %v", err)})
}
