package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
)

// Event catalog constants. These describe the Nova image-generation demo
// product and are not configurable at runtime.
const (
	// EventType is the stable event name metrics target via event_type_filter.
	EventType = "image_generation"

	// BillableMetricName is the display name of the SUM(num_images) metric.
	BillableMetricName = "Nova Image Generation"

	ProductName  = "Nova Image Generation"
	RateCardName = "Nova Launch Pricing"

	// RateEffectiveAt is the starting_at value for every flat rate.
	RateEffectiveAt = "2025-01-01T00:00:00Z"

	DefaultModel  = "nova-v2"
	DefaultRegion = "us-west-2"
)

// BillableGroupKeys segments the metric by image type for dimensional pricing.
// Shape is a list of key groups, e.g. [["image_type"], ["region"]].
var BillableGroupKeys = [][]string{{"image_type"}}

// TierPriceCents maps each image tier to its flat price in cents.
var TierPriceCents = map[string]int{
	"standard": 100,
	"high-res": 250,
	"ultra":    500,
}

// AllowedTiers returns the valid tier values sorted alphabetically, as
// enumerated in validation error responses.
func AllowedTiers() []string {
	tiers := make([]string, 0, len(TierPriceCents))
	for t := range TierPriceCents {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	return tiers
}

type Config struct {
	// Server
	Port string // default: 8080

	// Metronome
	BearerToken   string
	CustomerAlias string // ingest alias every usage event is attributed to
	BaseURL       string // default: https://api.metronome.com/v1

	// Local state
	StatePath string // default: .metronome_state.json

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		BearerToken:          os.Getenv("METRONOME_BEARER_TOKEN"),
		CustomerAlias:        os.Getenv("DEMO_CUSTOMER_ALIAS"),
		BaseURL:              getEnv("METRONOME_BASE_URL", "https://api.metronome.com/v1"),
		StatePath:            getEnv("STATE_PATH", ".metronome_state.json"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	// Validation
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("METRONOME_BEARER_TOKEN is required")
	}
	if cfg.CustomerAlias == "" {
		return nil, fmt.Errorf("DEMO_CUSTOMER_ALIAS is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
