package pricefeed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupportedCurrency is returned when the venue does not quote
	// bitcoin against the requested fiat currency.
	ErrUnsupportedCurrency = errors.New("unsupported fiat currency")
	// ErrNoQuote is returned when the venue response carries no usable quote.
	ErrNoQuote = errors.New("no quote in response")
)

// Service is the representation of a fiat price source quoting bitcoin.
type Service interface {
	// FetchRate returns the current BTC price in the given fiat currency
	// (ISO code, eg. "USD", "EUR").
	FetchRate(ctx context.Context, currency string) (decimal.Decimal, error)
	// Convert turns a BTC amount into its fiat value at the current rate.
	Convert(ctx context.Context, amountBTC decimal.Decimal, currency string) (decimal.Decimal, error)
}
