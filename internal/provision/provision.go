// Package provision ensures the billable metric exists on the remote API,
// reusing or adopting an existing one before creating anything new.
package provision

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/novaimg/metering-gateway/config"
	"github.com/novaimg/metering-gateway/internal/metronome"
	"github.com/novaimg/metering-gateway/internal/state"
)

// Gateway is the slice of the Metronome client the provisioner needs.
type Gateway interface {
	GetBillableMetric(ctx context.Context, id string) (*metronome.BillableMetric, error)
	ListBillableMetrics(ctx context.Context) ([]metronome.BillableMetric, error)
	CreateBillableMetric(ctx context.Context, params metronome.MetricParams) (*metronome.BillableMetric, error)
}

type Provisioner struct {
	gateway Gateway
	store   state.Store
	logger  zerolog.Logger

	// group serializes concurrent ensure calls per metric name so two
	// requests that both miss the cache cannot race to create duplicates.
	group singleflight.Group
}

func New(gateway Gateway, store state.Store, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		gateway: gateway,
		store:   store,
		logger:  logger,
	}
}

// EnsureMetric creates or reuses the billable metric and persists its ID.
//
// Fallback chain:
//  1. A stored metric_id that the remote API confirms → reuse.
//  2. First non-archived remote metric with the configured name → adopt,
//     persist its ID.
//  3. Create anew → persist the new ID.
func (p *Provisioner) EnsureMetric(ctx context.Context) (*metronome.BillableMetric, error) {
	v, err, _ := p.group.Do(config.BillableMetricName, func() (interface{}, error) {
		return p.ensureMetric(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*metronome.BillableMetric), nil
}

func (p *Provisioner) ensureMetric(ctx context.Context) (*metronome.BillableMetric, error) {
	st, err := p.store.Load()
	if err != nil {
		// A corrupt state file must not block provisioning; the adoption
		// path below recovers the ID from the remote listing.
		p.logger.Warn().Err(err).Msg("failed to load state, proceeding as unprovisioned")
		st = state.State{}
	}

	// 1) Try stored id first
	if st.MetricID != "" {
		existing, err := p.gateway.GetBillableMetric(ctx, st.MetricID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			p.logger.Info().Str("metric_id", st.MetricID).Msg("using existing metric from state")
			return existing, nil
		}
	}

	// 2) Try to find by name (non-archived)
	metrics, err := p.gateway.ListBillableMetrics(ctx)
	if err != nil {
		return nil, err
	}
	for i := range metrics {
		if metrics[i].Name != config.BillableMetricName {
			continue
		}
		m := metrics[i]
		st.MetricID = m.ID
		p.saveState(st)
		p.logger.Info().
			Str("metric_name", config.BillableMetricName).
			Str("metric_id", m.ID).
			Msg("linked existing metric by name")
		return &m, nil
	}

	// 3) Create a new metric
	created, err := p.gateway.CreateBillableMetric(ctx, metronome.MetricParams{
		Name:      config.BillableMetricName,
		EventType: config.EventType,
		GroupKeys: config.BillableGroupKeys,
		PropertyFilters: []metronome.PropertyFilter{
			{Name: "image_type", Exists: true},
			{Name: "num_images", Exists: true},
		},
	})
	if err != nil {
		return nil, err
	}
	st.MetricID = created.ID
	p.saveState(st)
	p.logger.Info().Str("metric_id", created.ID).Msg("created metric")
	return created, nil
}

// saveState logs and swallows write failures: a lost write means the next
// run re-runs the adoption path, it never duplicates remote resources.
func (p *Provisioner) saveState(st state.State) {
	if err := p.store.Save(st); err != nil {
		p.logger.Warn().Err(err).Msg("failed to save state file")
	}
}
