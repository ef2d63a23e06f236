package billing

import (
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PlanID is the client-facing plan key.
type PlanID string

const (
	PlanMonthly PlanID = "m"
	PlanAnnual  PlanID = "a"
)

const (
	MonthlyAmount int64 = 1995
	AnnualAmount  int64 = 19950

	CurrencyUSD = "usd"
)

// Plan is an immutable purchasable pricing tier.
type Plan struct {
	ID           PlanID
	Name         string
	StripePlanID string
	PayPalPlanID string
	Amount       int64 // minor units
	Currency     string
	// OneTimeDays is the PRO period granted by a single, non-recurring charge.
	OneTimeDays int
}

// ProviderPlanID returns the plan identifier known to the given provider.
func (p Plan) ProviderPlanID(provider ProviderName) string {
	switch provider {
	case ProviderPayPal:
		return p.PayPalPlanID
	default:
		return p.StripePlanID
	}
}

// OneTimePeriod returns the PRO period bought by a one-time charge of this plan.
func (p Plan) OneTimePeriod() time.Duration {
	return time.Duration(p.OneTimeDays) * 24 * time.Hour
}

// PlansConfig holds provider plan identifiers for the two plans.
type PlansConfig struct {
	StripeMonthlyID string `env:"STRIPE_PLAN_MONTHLY_ID,required"`
	StripeAnnualID  string `env:"STRIPE_PLAN_ANNUAL_ID,required"`
	PayPalMonthlyID string `env:"PAYPAL_PLAN_MONTHLY_ID,required"`
	PayPalAnnualID  string `env:"PAYPAL_PLAN_ANNUAL_ID,required"`
}

// Catalog is the read-only set of purchasable plans.
type Catalog struct {
	plans []Plan
}

// NewCatalog builds the monthly and annual plans.
func NewCatalog(cfg PlansConfig) (*Catalog, error) {
	if cfg.StripeMonthlyID == "" || cfg.StripeAnnualID == "" {
		return nil, errors.Join(ErrMissingPlanID, errors.New("stripe plan ids are required"))
	}
	if cfg.PayPalMonthlyID == "" || cfg.PayPalAnnualID == "" {
		return nil, errors.Join(ErrMissingPlanID, errors.New("paypal plan ids are required"))
	}

	return &Catalog{plans: []Plan{
		{
			ID:           PlanMonthly,
			Name:         "monthly",
			StripePlanID: cfg.StripeMonthlyID,
			PayPalPlanID: cfg.PayPalMonthlyID,
			Amount:       MonthlyAmount,
			Currency:     CurrencyUSD,
			OneTimeDays:  31,
		},
		{
			ID:           PlanAnnual,
			Name:         "annual",
			StripePlanID: cfg.StripeAnnualID,
			PayPalPlanID: cfg.PayPalAnnualID,
			Amount:       AnnualAmount,
			Currency:     CurrencyUSD,
			OneTimeDays:  366,
		},
	}}, nil
}

// Resolve returns the plan for a client-supplied key.
func (c *Catalog) Resolve(id string) (Plan, error) {
	for _, p := range c.plans {
		if string(p.ID) == id {
			return p, nil
		}
	}
	return Plan{}, ErrInvalidPlan
}

// PlanByAmount finds the plan whose price matches a charged amount.
func (c *Catalog) PlanByAmount(amount int64, currency string) (Plan, bool) {
	for _, p := range c.plans {
		if p.Amount == amount && (currency == "" || strings.EqualFold(p.Currency, currency)) {
			return p, true
		}
	}
	return Plan{}, false
}

// PlanByProviderID finds the plan by a provider-side plan identifier.
func (c *Catalog) PlanByProviderID(providerPlanID string) (Plan, bool) {
	for _, p := range c.plans {
		if p.StripePlanID == providerPlanID || p.PayPalPlanID == providerPlanID {
			return p, true
		}
	}
	return Plan{}, false
}

// Plans returns a copy of all plans.
func (c *Catalog) Plans() []Plan {
	return slices.Clone(c.plans)
}

var amountPrinter = message.NewPrinter(language.AmericanEnglish)

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
}

// HumanAmount formats minor units as a two-decimal currency string, e.g. 1995 -> "$19.95".
func HumanAmount(p Plan) string {
	return FormatAmount(p.Amount, p.Currency)
}

// FormatAmount formats an amount in minor units of the given currency.
func FormatAmount(amount int64, currency string) string {
	symbol, ok := currencySymbols[strings.ToLower(currency)]
	value := amountPrinter.Sprintf("%.2f", float64(amount)/100)
	if !ok {
		return value + " " + strings.ToUpper(currency)
	}
	return symbol + value
}

// HumanDetails describes what the plan buys.
func HumanDetails(p Plan, automatic bool) string {
	if automatic {
		return "PRO account with " + p.Name + " subscription."
	}
	period := "a month"
	if p.ID == PlanAnnual {
		period = "a year"
	}
	return "PRO account for " + period + ". No subscription."
}
