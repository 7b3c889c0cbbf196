package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"

	"investloader/internal/domain"
	"investloader/internal/util"
)

// Transient upstream failures are retried a few times before the unit is
// given up on and accounted as missing.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Compile-time interface checks.
var _ MarketDataProvider = (*TInvestProvider)(nil)
var _ InstrumentProvider = (*TInvestProvider)(nil)

// TInvestProvider adapts the T-Invest gRPC SDK to the provider interfaces.
// Trading dates are derived in the exchange timezone (Europe/Moscow).
type TInvestProvider struct {
	client *investgo.Client
	loc    *time.Location
	log    *slog.Logger
}

// NewTInvestProvider dials the T-Invest API with the given credentials.
func NewTInvestProvider(ctx context.Context, endpoint, token, appName string, loc *time.Location, log *slog.Logger) (*TInvestProvider, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := investgo.Config{
		EndPoint: endpoint,
		Token:    token,
		AppName:  appName,
	}
	client, err := investgo.NewClient(ctx, cfg, &sdkLogger{log: log.With("component", "tinvest-sdk")})
	if err != nil {
		return nil, fmt.Errorf("dialling t-invest api: %w", err)
	}
	return &TInvestProvider{
		client: client,
		loc:    loc,
		log:    log.With("component", "tinvest-provider"),
	}, nil
}

// Stop closes the underlying connection.
func (p *TInvestProvider) Stop() {
	p.client.Stop()
}

// GetCandles returns all candles for one instrument on one date.
func (p *TInvestProvider) GetCandles(ctx context.Context, figi string, date time.Time, interval CandleInterval) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, p.loc)
	to := from.AddDate(0, 0, 1)

	md := p.client.NewMarketDataServiceClient()
	var resp *investgo.GetCandlesResponse
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		var callErr error
		resp, callErr = md.GetCandles(figi, sdkInterval(interval), from, to, 0, 0)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("GetCandles %s %s: %w", figi, date.Format("2006-01-02"), err)
	}

	raw := resp.GetCandles()
	candles := make([]domain.Candle, 0, len(raw))
	for _, hc := range raw {
		candles = append(candles, domain.Candle{
			FIGI:       figi,
			Time:       hc.GetTime().AsTime(),
			Open:       quotationToDecimal(hc.GetOpen()),
			High:       quotationToDecimal(hc.GetHigh()),
			Low:        quotationToDecimal(hc.GetLow()),
			Close:      quotationToDecimal(hc.GetClose()),
			Volume:     hc.GetVolume(),
			IsComplete: hc.GetIsComplete(),
		})
	}
	return candles, nil
}

// GetClosePrices returns close prices for up to 100 instruments in a single
// upstream call. The upstream marks instruments without a session price with
// the 1970-01-01 placeholder date; that marker is passed through untouched
// for the reconciliation layer to filter.
func (p *TInvestProvider) GetClosePrices(ctx context.Context, figis []string) ([]ClosePrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(figis) == 0 {
		return nil, nil
	}

	md := p.client.NewMarketDataServiceClient()
	var resp *investgo.GetClosePricesResponse
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		var callErr error
		resp, callErr = md.GetClosePrices(figis)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("GetClosePrices (%d instruments): %w", len(figis), err)
	}

	raw := resp.GetClosePrices()
	prices := make([]ClosePrice, 0, len(raw))
	for _, cp := range raw {
		price := ClosePrice{
			FIGI:        cp.GetFigi(),
			TradingDate: tradingDate(cp.GetTime().AsTime(), p.loc),
			Price:       quotationToDecimal(cp.GetPrice()),
		}
		if esp := cp.GetEveningSessionPrice(); esp != nil {
			d := quotationToDecimal(esp)
			price.EveningSessionPrice = &d
		}
		prices = append(prices, price)
	}
	return prices, nil
}

// ListInstruments fetches the instrument master records of one type from the
// upstream catalog.
func (p *TInvestProvider) ListInstruments(ctx context.Context, t domain.InstrumentType) ([]domain.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ins := p.client.NewInstrumentsServiceClient()
	var out []domain.Instrument

	switch t {
	case domain.InstrumentShare:
		resp, err := ins.Shares(investapi.InstrumentStatus_INSTRUMENT_STATUS_BASE)
		if err != nil {
			return nil, fmt.Errorf("listing shares: %w", err)
		}
		for _, sh := range resp.GetInstruments() {
			out = append(out, domain.Instrument{
				FIGI:     sh.GetFigi(),
				Ticker:   sh.GetTicker(),
				Type:     domain.InstrumentShare,
				Currency: sh.GetCurrency(),
				Exchange: sh.GetExchange(),
			})
		}
	case domain.InstrumentFuture:
		resp, err := ins.Futures(investapi.InstrumentStatus_INSTRUMENT_STATUS_BASE)
		if err != nil {
			return nil, fmt.Errorf("listing futures: %w", err)
		}
		for _, fu := range resp.GetInstruments() {
			out = append(out, domain.Instrument{
				FIGI:     fu.GetFigi(),
				Ticker:   fu.GetTicker(),
				Type:     domain.InstrumentFuture,
				Currency: fu.GetCurrency(),
				Exchange: fu.GetExchange(),
			})
		}
	case domain.InstrumentIndicative:
		resp, err := ins.Indicatives()
		if err != nil {
			return nil, fmt.Errorf("listing indicatives: %w", err)
		}
		for _, ind := range resp.GetInstruments() {
			out = append(out, domain.Instrument{
				FIGI:     ind.GetFigi(),
				Ticker:   ind.GetTicker(),
				Type:     domain.InstrumentIndicative,
				Currency: ind.GetCurrency(),
				Exchange: ind.GetExchange(),
			})
		}
	default:
		return nil, fmt.Errorf("unknown instrument type %q", t)
	}
	return out, nil
}

// quotationToDecimal converts the upstream units+nano quotation to an exact
// decimal (nano carries 10^-9 scale).
func quotationToDecimal(q *investapi.Quotation) decimal.Decimal {
	if q == nil {
		return decimal.Decimal{}
	}
	return decimal.New(q.GetUnits(), 0).Add(decimal.New(int64(q.GetNano()), -9))
}

// tradingDate truncates an instant to its calendar date in the exchange
// timezone, preserving the upstream 1970-01-01 placeholder.
func tradingDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// sdkInterval maps a CandleInterval to the SDK enum. Unknown intervals fall
// back to one-minute candles.
func sdkInterval(i CandleInterval) investapi.CandleInterval {
	switch i {
	case IntervalHour:
		return investapi.CandleInterval_CANDLE_INTERVAL_HOUR
	case IntervalDay:
		return investapi.CandleInterval_CANDLE_INTERVAL_DAY
	default:
		return investapi.CandleInterval_CANDLE_INTERVAL_1_MIN
	}
}

// sdkLogger adapts slog to the SDK's logging interface.
type sdkLogger struct {
	log *slog.Logger
}

func (l *sdkLogger) Infof(template string, args ...any) {
	l.log.Info(fmt.Sprintf(template, args...))
}

func (l *sdkLogger) Errorf(template string, args ...any) {
	l.log.Error(fmt.Sprintf(template, args...))
}

func (l *sdkLogger) Fatalf(template string, args ...any) {
	l.log.Error(fmt.Sprintf(template, args...))
	panic(fmt.Sprintf(template, args...))
}
