package billing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/internal/pkg/entitlements"
)

// Price is a server-computed amount. Amount always has two fraction digits.
type Price struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Pricing prices a plan for a billing cycle and currency.
type Pricing interface {
	Price(ctx context.Context, plan, cycle, currency string) (Price, error)
}

const (
	CurrencyUSD = "USD"
	CurrencyJOD = "JOD"
	CurrencySAR = "SAR"
)

// basePricesUSD holds cents per plan and cycle.
var basePricesUSD = map[string]map[string]int64{
	entitlements.PlanIntermediate: {models.BillingCycleMonthly: 2999, models.BillingCycleYearly: 29999},
	entitlements.PlanSenior:       {models.BillingCycleMonthly: 4999, models.BillingCycleYearly: 49999},
	entitlements.PlanBundle:       {models.BillingCycleMonthly: 7999, models.BillingCycleYearly: 79999},
}

// DefaultRates converts USD into the supported local currencies.
var DefaultRates = map[string]float64{
	CurrencyUSD: 1,
	CurrencyJOD: 0.709,
	CurrencySAR: 3.75,
}

// StaticPricing prices plans from the built-in USD table and fixed rates.
type StaticPricing struct {
	rates map[string]float64
}

func NewStaticPricing(rates map[string]float64) *StaticPricing {
	if rates == nil {
		rates = DefaultRates
	}
	return &StaticPricing{rates: rates}
}

func (p *StaticPricing) Price(_ context.Context, plan, cycle, currency string) (Price, error) {
	byCycle, ok := basePricesUSD[strings.ToUpper(plan)]
	if !ok {
		return Price{}, fmt.Errorf("unknown plan %q", plan)
	}
	cents, ok := byCycle[strings.ToLower(cycle)]
	if !ok {
		return Price{}, fmt.Errorf("unknown billing cycle %q", cycle)
	}
	currency = strings.ToUpper(currency)
	rate, ok := p.rates[currency]
	if !ok {
		return Price{}, fmt.Errorf("unsupported currency %q", currency)
	}
	converted := int64(math.Round(float64(cents) * rate))
	return Price{Currency: currency, Amount: FormatMinor(converted)}, nil
}

// FormatMinor renders minor units as a decimal string with two fraction digits.
func FormatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
