// Package specs fetches instrument specifications (fees, lot sizes, quantity
// steps) from each exchange's public REST API in bulk, once at startup, and
// serves them to the detection engine. Specs change rarely; a missing spec
// disables detection for that instrument rather than failing the run.
package specs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/random-alex/between-exchanges-arbitrage/internal/domain"
)

const (
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	baseRetryDelay = time.Second
)

// Taker fee percentages per exchange, applied to every instrument. Public
// instrument endpoints do not expose account fee tiers.
var takerFeePct = map[string]float64{
	"bybit":   0.1,
	"okx":     0.05,
	"binance": 0.05,
	"deribit": 0.05,
	"bitget":  0.06,
}

// Fetcher loads instrument specs in bulk and answers spec lookups. It
// implements domain.SpecProvider.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger

	// baseURLs allows tests to point fetchers at local servers. Missing
	// entries fall back to production endpoints.
	baseURLs map[string]string

	mu    sync.RWMutex
	specs map[specKey]domain.InstrumentSpec
}

type specKey struct {
	exchange   string
	instrument string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL overrides the API root for one exchange.
func WithBaseURL(exchange, base string) Option {
	return func(f *Fetcher) {
		f.baseURLs[exchange] = base
	}
}

// NewFetcher creates a Fetcher with production endpoints.
func NewFetcher(logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With(slog.String("component", "instrument_specs")),
		baseURLs: map[string]string{
			"bybit":   "https://api.bybit.com",
			"okx":     "https://www.okx.com",
			"binance": "https://fapi.binance.com",
			"deribit": "https://www.deribit.com",
			"bitget":  "https://api.bitget.com",
		},
		specs: make(map[specKey]domain.InstrumentSpec),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll loads specs for every configured instrument, one bulk request per
// exchange, concurrently. Per-exchange failures are logged and skipped so one
// venue's outage does not block the rest.
func (f *Fetcher) FetchAll(ctx context.Context, instruments map[string][]string) error {
	g, ctx := errgroup.WithContext(ctx)

	for exchange, insts := range instruments {
		if len(insts) == 0 {
			continue
		}
		exchange, insts := exchange, insts
		g.Go(func() error {
			fetched, err := f.fetchExchange(ctx, exchange, insts)
			if err != nil {
				f.logger.Error("spec fetch failed",
					slog.String("exchange", exchange),
					slog.String("error", err.Error()),
				)
				return nil
			}

			f.mu.Lock()
			for inst, spec := range fetched {
				f.specs[specKey{exchange, inst}] = spec
			}
			f.mu.Unlock()

			if missing := len(insts) - len(fetched); missing > 0 {
				f.logger.Warn("specs missing for some instruments",
					slog.String("exchange", exchange),
					slog.Int("requested", len(insts)),
					slog.Int("loaded", len(fetched)),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("specs: %w", err)
	}

	f.mu.RLock()
	loaded := len(f.specs)
	f.mu.RUnlock()
	f.logger.Info("instrument specs loaded", slog.Int("count", loaded))
	return nil
}

// GetSpec returns the spec for one exchange/instrument pair.
func (f *Fetcher) GetSpec(exchange, instrument string) (domain.InstrumentSpec, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	spec, ok := f.specs[specKey{exchange, instrument}]
	if !ok {
		return domain.InstrumentSpec{}, fmt.Errorf("specs: %s %s: %w",
			exchange, instrument, domain.ErrSpecMissing)
	}
	return spec, nil
}

func (f *Fetcher) fetchExchange(ctx context.Context, exchange string, instruments []string) (map[string]domain.InstrumentSpec, error) {
	switch exchange {
	case "bybit":
		return f.fetchBybit(ctx, instruments)
	case "okx":
		return f.fetchOKX(ctx, instruments)
	case "binance":
		return f.fetchBinance(ctx, instruments)
	case "deribit":
		return f.fetchDeribit(ctx, instruments)
	case "bitget":
		return f.fetchBitget(ctx, instruments)
	default:
		return nil, fmt.Errorf("%q: %w", exchange, domain.ErrUnknownExchange)
	}
}

// getJSON performs a GET with exponential-backoff retries on rate limits,
// server errors, and network failures, then decodes the body into out.
func (f *Fetcher) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay << (attempt - 1)
			f.logger.Warn("retrying request",
				slog.String("url", rawURL),
				slog.Duration("delay", delay),
				slog.Int("attempt", attempt+1),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read body: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s: %w", rawURL, err)
			}
			return nil
		case retryableStatus(resp.StatusCode):
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		default:
			return fmt.Errorf("%s: status %d", rawURL, resp.StatusCode)
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", rawURL, lastErr)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (f *Fetcher) fetchBybit(ctx context.Context, instruments []string) (map[string]domain.InstrumentSpec, error) {
	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				BaseCoin      string `json:"baseCoin"`
				SettleCoin    string `json:"settleCoin"`
				LotSizeFilter struct {
					MinOrderQty string `json:"minOrderQty"`
					QtyStep     string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		} `json:"result"`
	}

	params := url.Values{"category": {"linear"}, "limit": {"1000"}}
	if err := f.getJSON(ctx, f.baseURLs["bybit"]+"/v5/market/instruments-info", params, &resp); err != nil {
		return nil, err
	}

	wanted := toSet(instruments)
	out := make(map[string]domain.InstrumentSpec)
	for _, info := range resp.Result.List {
		if _, ok := wanted[info.Symbol]; !ok {
			continue
		}
		minQty, err := strconv.ParseFloat(info.LotSizeFilter.MinOrderQty, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit %s: minOrderQty: %w", info.Symbol, err)
		}
		step, err := strconv.ParseFloat(info.LotSizeFilter.QtyStep, 64)
		if err != nil {
			return nil, fmt.Errorf("bybit %s: qtyStep: %w", info.Symbol, err)
		}
		out[info.Symbol] = domain.InstrumentSpec{
			ContractSize: 1.0,
			FeePct:       takerFeePct["bybit"],
			MinOrderQty:  minQty,
			QtyStep:      step,
			BaseCoin:     info.BaseCoin,
			SettleCoin:   info.SettleCoin,
		}
	}
	return out, nil
}

func (f *Fetcher) fetchOKX(ctx context.Context, instruments []string) (map[string]domain.InstrumentSpec, error) {
	// OKX requires one request per instrument type.
	var swaps, futures []string
	for _, inst := range instruments {
		if strings.Contains(inst, "SWAP") {
			swaps = append(swaps, inst)
		} else {
			futures = append(futures, inst)
		}
	}

	out := make(map[string]domain.InstrumentSpec)
	for instType, group := range map[string][]string{"SWAP": swaps, "FUTURES": futures} {
		if len(group) == 0 {
			continue
		}

		var resp struct {
			Data []struct {
				InstID    string `json:"instId"`
				CtVal     string `json:"ctVal"`
				MinSz     string `json:"minSz"`
				LotSz     string `json:"lotSz"`
				CtValCcy  string `json:"ctValCcy"`
				SettleCcy string `json:"settleCcy"`
			} `json:"data"`
		}

		params := url.Values{"instType": {instType}}
		if err := f.getJSON(ctx, f.baseURLs["okx"]+"/api/v5/public/instruments", params, &resp); err != nil {
			return nil, err
		}

		wanted := toSet(group)
		for _, info := range resp.Data {
			if _, ok := wanted[info.InstID]; !ok {
				continue
			}
			ctVal, err := strconv.ParseFloat(info.CtVal, 64)
			if err != nil {
				return nil, fmt.Errorf("okx %s: ctVal: %w", info.InstID, err)
			}
			minSz, err := strconv.ParseFloat(info.MinSz, 64)
			if err != nil {
				return nil, fmt.Errorf("okx %s: minSz: %w", info.InstID, err)
			}
			lotSz, err := strconv.ParseFloat(info.LotSz, 64)
			if err != nil {
				return nil, fmt.Errorf("okx %s: lotSz: %w", info.InstID, err)
			}
			out[info.InstID] = domain.InstrumentSpec{
				ContractSize: ctVal,
				FeePct:       takerFeePct["okx"],
				MinOrderQty:  minSz,
				QtyStep:      lotSz,
				BaseCoin:     info.CtValCcy,
				SettleCoin:   info.SettleCcy,
			}
		}
	}
	return out, nil
}

func (f *Fetcher) fetchBinance(ctx context.Context, instruments []string) (map[string]domain.InstrumentSpec, error) {
	var resp struct {
		Symbols []struct {
			Symbol      string `json:"symbol"`
			BaseAsset   string `json:"baseAsset"`
			MarginAsset string `json:"marginAsset"`
			Filters     []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}

	if err := f.getJSON(ctx, f.baseURLs["binance"]+"/fapi/v1/exchangeInfo", nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]domain.InstrumentSpec)
	for _, s := range resp.Symbols {
		for _, instrument := range instruments {
			// Dated futures share the perpetual's symbol metadata.
			base, _, _ := strings.Cut(instrument, "_")
			if s.Symbol != base && s.Symbol != instrument {
				continue
			}

			var minQty, step float64
			var found bool
			for _, filter := range s.Filters {
				if filter.FilterType != "MARKET_LOT_SIZE" {
					continue
				}
				var err error
				if minQty, err = strconv.ParseFloat(filter.MinQty, 64); err != nil {
					return nil, fmt.Errorf("binance %s: minQty: %w", s.Symbol, err)
				}
				if step, err = strconv.ParseFloat(filter.StepSize, 64); err != nil {
					return nil, fmt.Errorf("binance %s: stepSize: %w", s.Symbol, err)
				}
				found = true
				break
			}
			if !found {
				continue
			}

			out[instrument] = domain.InstrumentSpec{
				ContractSize: 1.0,
				FeePct:       takerFeePct["binance"],
				MinOrderQty:  minQty,
				QtyStep:      step,
				BaseCoin:     s.BaseAsset,
				SettleCoin:   s.MarginAsset,
			}
			break
		}
	}
	return out, nil
}

func (f *Fetcher) fetchDeribit(ctx context.Context, instruments []string) (map[string]domain.InstrumentSpec, error) {
	// One request per base currency covers all its futures.
	currencies := make(map[string]struct{})
	for _, inst := range instruments {
		if cur := deribitCurrency(inst); cur != "" {
			currencies[cur] = struct{}{}
		}
	}

	wanted := toSet(instruments)
	out := make(map[string]domain.InstrumentSpec)
	for currency := range currencies {
		var resp struct {
			Result []struct {
				InstrumentName     string  `json:"instrument_name"`
				ContractSize       float64 `json:"contract_size"`
				MinTradeAmount     float64 `json:"min_trade_amount"`
				BaseCurrency       string  `json:"base_currency"`
				SettlementCurrency string  `json:"settlement_currency"`
			} `json:"result"`
		}

		params := url.Values{"currency": {currency}, "kind": {"future"}}
		if err := f.getJSON(ctx, f.baseURLs["deribit"]+"/api/v2/public/get_instruments", params, &resp); err != nil {
			return nil, err
		}

		for _, info := range resp.Result {
			if _, ok := wanted[info.InstrumentName]; !ok {
				continue
			}
			out[info.InstrumentName] = domain.InstrumentSpec{
				ContractSize: info.ContractSize,
				FeePct:       takerFeePct["deribit"],
				MinOrderQty:  info.MinTradeAmount,
				QtyStep:      info.MinTradeAmount,
				BaseCoin:     info.BaseCurrency,
				SettleCoin:   info.SettlementCurrency,
			}
		}
	}
	return out, nil
}

// deribitCurrency extracts the base currency from a Deribit instrument name:
// "BTC_USDC-PERPETUAL" -> "BTC", "BTC-26DEC25" -> "BTC".
func deribitCurrency(instrument string) string {
	name, _, ok := strings.Cut(instrument, "-")
	if !ok {
		return ""
	}
	base, _, _ := strings.Cut(name, "_")
	return base
}

func (f *Fetcher) fetchBitget(ctx context.Context, instruments []string) (map[string]domain.InstrumentSpec, error) {
	var resp struct {
		Data []struct {
			Symbol         string `json:"symbol"`
			SizeMultiplier string `json:"sizeMultiplier"`
			MinTradeNum    string `json:"minTradeNum"`
			VolumePlace    string `json:"volumePlace"`
			BaseCoin       string `json:"baseCoin"`
			QuoteCoin      string `json:"quoteCoin"`
		} `json:"data"`
	}

	params := url.Values{"productType": {"usdt-futures"}}
	if err := f.getJSON(ctx, f.baseURLs["bitget"]+"/api/v2/mix/market/contracts", params, &resp); err != nil {
		return nil, err
	}

	wanted := toSet(instruments)
	out := make(map[string]domain.InstrumentSpec)
	for _, info := range resp.Data {
		if _, ok := wanted[info.Symbol]; !ok {
			continue
		}
		size, err := strconv.ParseFloat(info.SizeMultiplier, 64)
		if err != nil {
			return nil, fmt.Errorf("bitget %s: sizeMultiplier: %w", info.Symbol, err)
		}
		minQty, err := strconv.ParseFloat(info.MinTradeNum, 64)
		if err != nil {
			return nil, fmt.Errorf("bitget %s: minTradeNum: %w", info.Symbol, err)
		}
		// volumePlace is the decimal-place count of the quantity step.
		places, err := strconv.Atoi(info.VolumePlace)
		if err != nil {
			return nil, fmt.Errorf("bitget %s: volumePlace: %w", info.Symbol, err)
		}
		step := 1.0
		for i := 0; i < places; i++ {
			step /= 10
		}
		out[info.Symbol] = domain.InstrumentSpec{
			ContractSize: size,
			FeePct:       takerFeePct["bitget"],
			MinOrderQty:  minQty,
			QtyStep:      step,
			BaseCoin:     info.BaseCoin,
			SettleCoin:   info.QuoteCoin,
		}
	}
	return out, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
