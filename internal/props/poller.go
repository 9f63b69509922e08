package props

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/headerguard/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute

	defaultStaleThreshold = 30 * time.Minute
)

// Fetcher returns the full current property set of a remote store.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (map[string]string, error)
}

// PollerMetrics is implemented by the metrics package.
type PollerMetrics interface {
	IncPropertyPoll(source string)
	IncPropertyPollError(source string)
	IncPropertyChange(source string)
	SetPropertyLastSuccess(source string, unixSeconds float64)
	SetPropertyStale(source string, stale bool)
}

type PollerOptions struct {
	Logger         log.Logger
	Fetcher        Fetcher
	Target         *Snapshot
	Interval       time.Duration
	StaleThreshold time.Duration
	Metrics        PollerMetrics

	// OnChange runs on the poll goroutine after the snapshot content changed.
	OnChange func(keys []string)
}

// Poller keeps a Snapshot in sync with a Fetcher. On fetch errors the last
// good snapshot stays in place and polling backs off exponentially.
type Poller struct {
	fetcher        Fetcher
	target         *Snapshot
	logger         log.Logger
	interval       time.Duration
	staleThreshold time.Duration
	metrics        PollerMetrics
	onChange       func(keys []string)

	consecutiveErrs int
	lastSuccessAt   time.Time
	staleLogged     bool
	pollCount       int64
	changeCount     int64
}

func NewPoller(opts PollerOptions) *Poller {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = defaultStaleThreshold
	}
	return &Poller{
		fetcher:        opts.Fetcher,
		target:         opts.Target,
		logger:         opts.Logger.With("property_source", opts.Fetcher.Name()),
		interval:       opts.Interval,
		staleThreshold: opts.StaleThreshold,
		metrics:        opts.Metrics,
		onChange:       opts.OnChange,
		lastSuccessAt:  time.Now(),
	}
}

// PollOnce fetches once and swaps the result into the target snapshot.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.pollCount++
	src := p.fetcher.Name()
	if p.metrics != nil {
		p.metrics.IncPropertyPoll(src)
	}

	props, err := p.fetcher.Fetch(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncPropertyPollError(src)
		}
		return err
	}

	p.lastSuccessAt = time.Now()
	if p.metrics != nil {
		p.metrics.SetPropertyLastSuccess(src, float64(p.lastSuccessAt.Unix()))
	}

	if !p.target.Replace(props) {
		return nil
	}
	p.changeCount++
	keys := p.target.Keys()
	p.logger.Info(ctx, "properties changed", "keys", keys, "total_changes", p.changeCount)
	if p.metrics != nil {
		p.metrics.IncPropertyChange(src)
	}
	if p.onChange != nil {
		p.onChange(keys)
	}
	return nil
}

// Run polls until ctx is cancelled. Intended to run on its own goroutine.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info(ctx, "property poller starting", "poll_interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info(ctx, "property poller stopping",
				"reason", ctx.Err(),
				"polls", p.pollCount,
				"changes", p.changeCount,
			)
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx, ticker)
		}
	}
}

func (p *Poller) tick(ctx context.Context, ticker *time.Ticker) {
	err := p.PollOnce(ctx)
	if err == nil {
		if p.consecutiveErrs > 0 {
			p.logger.Info(ctx, "property poller recovered, resuming normal interval",
				"had_consecutive_errors", p.consecutiveErrs,
			)
			p.consecutiveErrs = 0
			ticker.Reset(p.interval)
		}
		if p.staleLogged {
			p.logger.Info(ctx, "property poller staleness recovered")
			p.staleLogged = false
			if p.metrics != nil {
				p.metrics.SetPropertyStale(p.fetcher.Name(), false)
			}
		}
		return
	}

	p.consecutiveErrs++
	backoff := p.backoffDuration()
	p.logger.Error(ctx, err, "property poll failed, keeping last known values",
		"consecutive_errors", p.consecutiveErrs,
		"next_poll_in", backoff.String(),
	)
	ticker.Reset(backoff)

	if since := time.Since(p.lastSuccessAt); since > p.staleThreshold && !p.staleLogged {
		p.staleLogged = true
		p.logger.Error(ctx, fmt.Errorf("last successful poll was %s ago", since.Truncate(time.Second)),
			"property poller is stale, serving last known values",
		)
		if p.metrics != nil {
			p.metrics.SetPropertyStale(p.fetcher.Name(), true)
		}
	}
}

// consecutiveErrs=1 -> 2x interval, 2 -> 4x, capped at maxBackoff
func (p *Poller) backoffDuration() time.Duration {
	d := time.Duration(float64(p.interval) * math.Pow(2, float64(p.consecutiveErrs)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}
