package billing

// EventType is the provider-independent kind of a webhook event.
type EventType string

const (
	EventRecurringPaymentSucceeded EventType = "recurring_payment_succeeded"
	EventOneTimePaymentSucceeded   EventType = "one_time_payment_succeeded"
	EventUnknown                   EventType = "unknown"
)

// WebhookEvent is a verified provider callback normalized across providers.
type WebhookEvent struct {
	ID           string
	Provider     ProviderName
	Type         EventType
	ProviderType string // raw provider event type, e.g. "invoice.payment_succeeded"

	SubscriptionID string
	CustomerID     string
	OrderID        string
	Email          string

	Amount   int64 // minor units
	Currency string

	// PeriodEnd is the paid period end as supplied by the provider:
	// epoch seconds (int or numeric string), RFC 3339 string or time.Time.
	// Nil when the event does not carry it.
	PeriodEnd any
	// Paid is false for recurring events the provider reports as unpaid.
	Paid bool
}
