package krakenfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/satcat21/btc-mempaper-sub000/pkg/httputil"
	"github.com/satcat21/btc-mempaper-sub000/pkg/pricefeed"
)

const defaultBaseURL = "https://api.kraken.com/0/public"

// tickerPairs maps an ISO fiat currency to the Kraken pair name to query.
var tickerPairs = map[string]string{
	"USD": "XBTUSD",
	"EUR": "XBTEUR",
	"GBP": "XBTGBP",
	"CHF": "XBTCHF",
	"JPY": "XBTJPY",
	"CAD": "XBTCAD",
	"AUD": "XBTAUD",
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

type service struct {
	baseURL string
	client  *httputil.Client
	ttl     time.Duration

	rateLock  sync.RWMutex
	lastRates map[string]cachedRate
	nowFunc   func() time.Time
}

// NewService returns a pricefeed.Service backed by the Kraken public ticker
// REST endpoint. Rates are cached for the given ttl so that repeated balance
// refreshes do not hammer the venue.
func NewService(baseURL string, requestTimeout, ttl time.Duration) pricefeed.Service {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &service{
		baseURL:   baseURL,
		client:    httputil.NewClient(requestTimeout),
		ttl:       ttl,
		lastRates: make(map[string]cachedRate),
		nowFunc:   time.Now,
	}
}

func (s *service) FetchRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	pair, ok := tickerPairs[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", pricefeed.ErrUnsupportedCurrency, currency)
	}

	if rate, ok := s.getCachedRate(currency); ok {
		return rate, nil
	}

	url := fmt.Sprintf("%s/Ticker?pair=%s", s.baseURL, pair)
	status, resp, err := s.client.Get(ctx, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error on retrieving ticker: %w", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker endpoint: %s", resp)
	}

	rate, err := parseTickerResponse(resp)
	if err != nil {
		return decimal.Zero, err
	}

	s.setCachedRate(currency, rate)
	log.Debugf("pricefeed: BTC/%s rate %s", currency, rate)
	return rate, nil
}

func (s *service) Convert(
	ctx context.Context, amountBTC decimal.Decimal, currency string,
) (decimal.Decimal, error) {
	rate, err := s.FetchRate(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amountBTC.Mul(rate), nil
}

func (s *service) getCachedRate(currency string) (decimal.Decimal, bool) {
	s.rateLock.RLock()
	defer s.rateLock.RUnlock()

	cached, ok := s.lastRates[currency]
	if !ok || s.nowFunc().Sub(cached.fetchedAt) > s.ttl {
		return decimal.Zero, false
	}
	return cached.rate, true
}

func (s *service) setCachedRate(currency string, rate decimal.Decimal) {
	s.rateLock.Lock()
	defer s.rateLock.Unlock()
	s.lastRates[currency] = cachedRate{rate: rate, fetchedAt: s.nowFunc()}
}

type tickerResponse struct {
	Error  []string                `json:"error"`
	Result map[string]tickerResult `json:"result"`
}

type tickerResult struct {
	// C holds the last trade closed as [price, lot volume].
	C []string `json:"c"`
}

func parseTickerResponse(resp string) (decimal.Decimal, error) {
	parsed := tickerResponse{}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("invalid ticker JSON: %w", err)
	}
	if len(parsed.Error) > 0 {
		return decimal.Zero, fmt.Errorf("ticker endpoint: %s", strings.Join(parsed.Error, ", "))
	}

	for _, result := range parsed.Result {
		if len(result.C) <= 0 {
			continue
		}
		rate, err := decimal.NewFromString(result.C[0])
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid ticker price: %w", err)
		}
		return rate, nil
	}

	return decimal.Zero, pricefeed.ErrNoQuote
}
