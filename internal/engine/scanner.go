package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
	"github.com/random-alex/between-exchanges-arbitrage/internal/logging"
	"github.com/random-alex/between-exchanges-arbitrage/internal/quotes"
)

// Opener decides whether a priced opportunity becomes a position and opens it.
type Opener interface {
	ShouldOpen(ctx context.Context, opp *domain.Opportunity) (bool, string, error)
	Open(ctx context.Context, opp *domain.Opportunity) (*domain.Position, error)
}

// ScannerConfig configures the periodic opportunity scan.
type ScannerConfig struct {
	Interval time.Duration
	Pricing  PricingParams

	// MinROIPct filters which opportunities are surfaced at all.
	MinROIPct float64

	// StalenessThreshold excludes quotes older than this from detection.
	StalenessThreshold time.Duration
}

// Scanner periodically pairs quotes across exchanges, prices the spreads, and
// forwards the best candidates to the position opener. At most one position
// per exchange is opened per symbol per cycle.
type Scanner struct {
	cfg    ScannerConfig
	store  *quotes.Store
	specs  domain.SpecProvider
	opener Opener
	logger *logging.RateLimited
}

// candidate is one priced opportunity awaiting the open decision.
type candidate struct {
	opp *domain.Opportunity
}

// NewScanner creates a Scanner. opener may be nil for detection-only runs.
func NewScanner(cfg ScannerConfig, store *quotes.Store, specs domain.SpecProvider, opener Opener, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		store:  store,
		specs:  specs,
		opener: opener,
		logger: logging.NewRateLimited(logger.With(slog.String("component", "scanner"))),
	}
}

// FlushLogSummary emits counts for any log lines suppressed since the last
// flush.
func (s *Scanner) FlushLogSummary() {
	s.logger.ForceSummary()
}

// Run blocks, scanning on the configured interval until the context is
// cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Base().Info("scanner started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Float64("min_roi_pct", s.cfg.MinROIPct),
	)

	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// scan runs one full detection cycle.
func (s *Scanner) scan(ctx context.Context) {
	exchanges := s.store.Exchanges()
	if len(exchanges) < 2 {
		return
	}
	sort.Strings(exchanges)

	snapshots := make(map[string]map[string]domain.Quote, len(exchanges))
	for _, ex := range exchanges {
		snapshots[ex] = s.store.Snapshot(ex)
	}

	bySymbol := s.findSpreads(ctx, exchanges, snapshots)
	if len(bySymbol) == 0 {
		return
	}

	for symbol, candidates := range bySymbol {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].opp.ROIPct > candidates[j].opp.ROIPct
		})
		s.openBest(ctx, symbol, candidates)
	}
}

// findSpreads prices every exchange pair concurrently and groups surviving
// opportunities by symbol.
func (s *Scanner) findSpreads(ctx context.Context, exchanges []string, snapshots map[string]map[string]domain.Quote) map[string][]candidate {
	var (
		mu       sync.Mutex
		bySymbol = make(map[string][]candidate)
	)

	cutoff := time.Now().Add(-s.cfg.StalenessThreshold)

	g, ctx := errgroup.WithContext(ctx)
	for i, ex1 := range exchanges {
		for _, ex2 := range exchanges[i+1:] {
			data1, data2 := snapshots[ex1], snapshots[ex2]
			if len(data1) == 0 || len(data2) == 0 {
				continue
			}

			g.Go(func() error {
				for symbol, q1 := range data1 {
					q2, ok := data2[symbol]
					if !ok {
						continue
					}
					if q1.Time().Before(cutoff) || q2.Time().Before(cutoff) {
						continue
					}

					opp := s.price(q1, q2)
					if opp == nil {
						continue
					}
					if !opp.Profitable || opp.ROIPct < s.cfg.MinROIPct {
						continue
					}

					mu.Lock()
					bySymbol[symbol] = append(bySymbol[symbol], candidate{opp: opp})
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	return bySymbol
}

// price looks up both specs and runs the spread calculation. Instruments
// without specs are silently skipped; detection for them is disabled.
func (s *Scanner) price(q1, q2 domain.Quote) *domain.Opportunity {
	spec1, err := s.specs.GetSpec(q1.Exchange, q1.InstrumentID)
	if err != nil {
		if !errors.Is(err, domain.ErrSpecMissing) {
			s.logger.Event(slog.LevelWarn, "spec_lookup", "spec lookup failed",
				slog.String("exchange", q1.Exchange),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	spec2, err := s.specs.GetSpec(q2.Exchange, q2.InstrumentID)
	if err != nil {
		return nil
	}

	return CalculateSpread(q1, q2, spec1, spec2, s.cfg.Pricing)
}

// openBest walks one symbol's candidates in ROI order, opening positions
// until every exchange is committed at most once.
func (s *Scanner) openBest(ctx context.Context, symbol string, candidates []candidate) {
	used := make(map[string]struct{})

	for _, c := range candidates {
		opp := c.opp
		if _, ok := used[opp.LongExchange]; ok {
			continue
		}
		if _, ok := used[opp.ShortExchange]; ok {
			continue
		}

		s.logger.Opportunity(opp.LongExchange, opp.ShortExchange, symbol,
			slog.Float64("roi_pct", opp.ROIPct),
			slog.Float64("spread_pct", opp.SpreadPct),
			slog.Float64("net_profit_usd", opp.NetProfitUSD),
			slog.Float64("long_price", opp.EntryLongPrice),
			slog.Float64("short_price", opp.EntryShortPrice),
		)

		if s.opener == nil {
			continue
		}

		ok, reason, err := s.opener.ShouldOpen(ctx, opp)
		if err != nil {
			s.logger.Base().Error("open decision failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			s.logger.Event(slog.LevelDebug, "open_skipped:"+symbol, "open skipped",
				slog.String("symbol", symbol),
				slog.String("reason", reason),
			)
			continue
		}

		if _, err := s.opener.Open(ctx, opp); err != nil {
			s.logger.Base().Error("failed to open position",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		used[opp.LongExchange] = struct{}{}
		used[opp.ShortExchange] = struct{}{}
	}
}
