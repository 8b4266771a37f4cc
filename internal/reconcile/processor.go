package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/transaction"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultSafetyMargin = 5 * time.Second
	DefaultMaxResults   = 10000
)

// Options configures a Processor. Zero values take the defaults above.
type Options struct {
	Interval     time.Duration
	SafetyMargin time.Duration
	MaxResults   int
	ReportType   string
	Policy       Policy
}

// TickResult summarises one reconciliation run
type TickResult struct {
	WindowStart time.Time `json:"window_start"`
	Reported    int       `json:"reported"`
	Upserted    int       `json:"upserted"`
	Failed      int       `json:"failed"`
	Skipped     bool      `json:"skipped"`
}

// Processor periodically merges the platform's report into the store
type Processor struct {
	gateway steam.Gateway
	store   transaction.Store
	opts    Options
	now     func() time.Time
	running atomic.Bool
	logger  zerolog.Logger
}

func NewProcessor(gateway steam.Gateway, store transaction.Store, opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.ReportType == "" {
		opts.ReportType = steam.ReportTypeSubscription
	}
	return &Processor{
		gateway: gateway,
		store:   store,
		opts:    opts,
		now:     time.Now,
		logger:  log.With().Str("component", "reconcile_processor").Logger(),
	}
}

// Interval is the time between ticks
func (p *Processor) Interval() time.Duration {
	return p.opts.Interval
}

// Window returns the start of the report window for a tick at now. The
// window overlaps the previous tick by the safety margin.
func (p *Processor) Window(now time.Time) time.Time {
	return now.Add(-(p.opts.Interval + p.opts.SafetyMargin)).UTC().Truncate(time.Second)
}

// Start runs a tick every interval until ctx is cancelled
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().
		Dur("interval", p.opts.Interval).
		Dur("safety_margin", p.opts.SafetyMargin).
		Msg("starting reconciliation processor")

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error().Err(err).Msg("reconciliation tick failed")
			}
		}
	}
}

// RunOnce reconciles the window ending now
func (p *Processor) RunOnce(ctx context.Context) (TickResult, error) {
	return p.RunSince(ctx, p.Window(p.now()))
}

// RunSince reconciles every order updated at or after since. A run that
// starts while another is in progress is skipped.
func (p *Processor) RunSince(ctx context.Context, since time.Time) (TickResult, error) {
	result := TickResult{WindowStart: since.UTC()}

	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn().Time("window_start", result.WindowStart).Msg("previous reconciliation still running, skipping")
		result.Skipped = true
		return result, nil
	}
	defer p.running.Store(false)

	report, err := p.gateway.GetReport(ctx, steam.ReportQuery{
		Type:       p.opts.ReportType,
		Since:      result.WindowStart,
		MaxResults: p.opts.MaxResults,
	})
	if err != nil {
		return result, err
	}

	result.Reported = len(report.Orders)
	p.logger.Info().
		Time("window_start", result.WindowStart).
		Int("orders", result.Reported).
		Msg("processing billing report")

	for _, order := range report.Orders {
		tx, err := ToTransaction(order, p.opts.Policy)
		if err != nil {
			result.Failed++
			p.logger.Error().
				Err(err).
				Str("order_id", order.OrderID).
				Str("trans_id", order.TransID).
				Msg("failed to map report order")
			continue
		}

		if err := p.store.Upsert(ctx, tx); err != nil {
			result.Failed++
			p.logger.Error().
				Err(err).
				Str("order_id", order.OrderID).
				Str("trans_id", order.TransID).
				Msg("failed to store transaction")
			continue
		}
		result.Upserted++
	}

	if result.Reported == p.opts.MaxResults {
		p.logger.Warn().
			Int("max_results", p.opts.MaxResults).
			Msg("report hit max results, orders past the cap are missing from this window")
	}

	p.logger.Info().
		Int("upserted", result.Upserted).
		Int("failed", result.Failed).
		Msg("reconciliation complete")

	return result, nil
}
