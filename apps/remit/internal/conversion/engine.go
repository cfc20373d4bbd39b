package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"remit/apps/remit/internal/model"
)

// divisionScale is the number of fractional digits kept when dividing. Quotients are
// truncated, never rounded up.
const divisionScale = 18

var (
	ErrRateNotFound    = errors.New("exchange rate not found")
	ErrRateUnavailable = errors.New("exchange rate provider unavailable")
	ErrInvalidRate     = errors.New("exchange rate must be positive")
	ErrNegativeAmount  = errors.New("amount must not be negative")
)

// Rate is a conversion factor from one currency to another together with where it came from.
type Rate struct {
	Value  decimal.Decimal
	Source model.RateSource
}

// RateProvider looks up the factor converting one unit of from into to.
type RateProvider interface {
	Rate(ctx context.Context, from, to string) (Rate, error)
}

// Conversion is the result of converting an amount between two currencies.
type Conversion struct {
	Amount decimal.Decimal
	// Rate is the effective factor applied, amount_out / amount_in.
	Rate   decimal.Decimal
	Path   string
	Source model.RateSource
}

// Engine converts amounts between currencies, routing through the hub currency when
// no direct rate is known.
type Engine struct {
	rates RateProvider
	hub   string
}

func NewEngine(rates RateProvider, hub string) *Engine {
	return &Engine{rates: rates, hub: strings.ToUpper(hub)}
}

func (e *Engine) Hub() string {
	return e.hub
}

// Convert converts amount from one currency to another.
func (e *Engine) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if amount.IsNegative() {
		return Conversion{}, ErrNegativeAmount
	}
	if from == to {
		return identity(amount, from), nil
	}

	rate, err := e.directRate(ctx, from, to)
	if err == nil {
		return Conversion{
			Amount: mul(amount, rate.Value),
			Rate:   rate.Value,
			Path:   from + "->" + to,
			Source: rate.Source,
		}, nil
	}
	if !errors.Is(err, ErrRateNotFound) || from == e.hub || to == e.hub {
		return Conversion{}, err
	}

	toHub, err := e.ToHub(ctx, amount, from)
	if err != nil {
		return Conversion{}, err
	}
	fromHub, err := e.FromHub(ctx, toHub.Amount, to)
	if err != nil {
		return Conversion{}, err
	}

	return Conversion{
		Amount: fromHub.Amount,
		Rate:   mul(toHub.Rate, fromHub.Rate),
		Path:   from + "->" + e.hub + "->" + to,
		Source: combineSources(toHub.Source, fromHub.Source),
	}, nil
}

// ToHub converts amount of currency into the hub currency.
func (e *Engine) ToHub(ctx context.Context, amount decimal.Decimal, currency string) (Conversion, error) {
	currency = strings.ToUpper(currency)
	if amount.IsNegative() {
		return Conversion{}, ErrNegativeAmount
	}
	if currency == e.hub {
		return identity(amount, currency), nil
	}

	rate, err := e.directRate(ctx, currency, e.hub)
	if err != nil {
		return Conversion{}, err
	}

	return Conversion{
		Amount: mul(amount, rate.Value),
		Rate:   rate.Value,
		Path:   currency + "->" + e.hub,
		Source: rate.Source,
	}, nil
}

// FromHub converts a hub-currency amount into currency.
func (e *Engine) FromHub(ctx context.Context, hubAmount decimal.Decimal, currency string) (Conversion, error) {
	currency = strings.ToUpper(currency)
	if hubAmount.IsNegative() {
		return Conversion{}, ErrNegativeAmount
	}
	if currency == e.hub {
		return identity(hubAmount, currency), nil
	}

	rate, err := e.directRate(ctx, e.hub, currency)
	if err != nil {
		return Conversion{}, err
	}

	return Conversion{
		Amount: mul(hubAmount, rate.Value),
		Rate:   rate.Value,
		Path:   e.hub + "->" + currency,
		Source: rate.Source,
	}, nil
}

// directRate looks up from->to, falling back to the inverse of to->from.
func (e *Engine) directRate(ctx context.Context, from, to string) (Rate, error) {
	rate, err := e.rates.Rate(ctx, from, to)
	if err == nil {
		if !rate.Value.IsPositive() {
			return Rate{}, fmt.Errorf("%s->%s: %w", from, to, ErrInvalidRate)
		}
		return rate, nil
	}
	if !errors.Is(err, ErrRateNotFound) {
		return Rate{}, err
	}

	inverse, inverseErr := e.rates.Rate(ctx, to, from)
	if inverseErr != nil {
		if errors.Is(inverseErr, ErrRateNotFound) {
			return Rate{}, fmt.Errorf("no rate for %s->%s: %w", from, to, ErrRateNotFound)
		}
		return Rate{}, inverseErr
	}
	if !inverse.Value.IsPositive() {
		return Rate{}, fmt.Errorf("%s->%s: %w", to, from, ErrInvalidRate)
	}

	return Rate{Value: quo(decimal.NewFromInt(1), inverse.Value), Source: inverse.Source}, nil
}

func identity(amount decimal.Decimal, currency string) Conversion {
	return Conversion{Amount: amount, Rate: decimal.NewFromInt(1), Path: currency, Source: model.RateSourceLive}
}

func combineSources(sources ...model.RateSource) model.RateSource {
	for _, source := range sources {
		if source == model.RateSourceStatic {
			return model.RateSourceStatic
		}
	}
	return model.RateSourceLive
}

func mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(divisionScale)
}

func quo(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, divisionScale)
	return q
}
