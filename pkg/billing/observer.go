package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage is a checkout or webhook lifecycle point.
type Stage string

const (
	StageCheckoutOpened     Stage = "checkout_opened"
	StageCheckoutInProgress Stage = "checkout_in_progress"
	StageCheckoutSucceeded  Stage = "checkout_succeeded"
	StageCheckoutFailed     Stage = "checkout_failed"
	StageWebhookInProgress  Stage = "webhook_in_progress"
	StageWebhookApplied     Stage = "webhook_applied"
	StageWebhookIgnored     Stage = "webhook_ignored"
	StageWebhookRejected    Stage = "webhook_rejected"
)

// Lifecycle describes one lifecycle point.
type Lifecycle struct {
	Stage    Stage
	Provider ProviderName
	UserID   uuid.UUID
	PlanID   PlanID
	Kind     PaymentKind
	Status   PaymentStatus
	Event    EventType
	Amount   int64
	Currency string
	ProUntil time.Time
	Err      error
}

// Observer receives lifecycle notifications. It must not block.
type Observer func(ctx context.Context, l Lifecycle)

type observers []Observer

func (o observers) notify(ctx context.Context, l Lifecycle) {
	for _, fn := range o {
		fn(ctx, l)
	}
}
