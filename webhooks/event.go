package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
)

// Kind enumerates the closed set of gateway events this reconciler handles.
// Dispatch is over this set; new event types are a compile-time decision.
type Kind string

const (
	KindInvoicePaid            Kind = "invoice.paid"
	KindPaymentIntentSucceeded Kind = "payment_intent.succeeded"
	KindPaymentIntentFailed    Kind = "payment_intent.payment_failed"
	KindSubscriptionCreated    Kind = "customer.subscription.created"
	KindSubscriptionUpdated    Kind = "customer.subscription.updated"
	KindSubscriptionDeleted    Kind = "customer.subscription.deleted"
	KindScheduleCompleted      Kind = "subscription_schedule.completed"
	KindScheduleCanceled       Kind = "subscription_schedule.canceled"
	KindChargeRefunded         Kind = "charge.refunded"
)

// Event is a tagged union: exactly the payload matching Kind is set.
type Event struct {
	ID   string
	Kind Kind

	Invoice       *InvoicePayload
	PaymentIntent *PaymentIntentPayload
	Subscription  *SubscriptionPayload
	Schedule      *SchedulePayload
	Charge        *ChargePayload
}

type InvoicePayload struct {
	ID              string
	SubscriptionID  string
	CustomerID      string
	PaymentIntentID string
	AmountPaid      int64
	Currency        string
	PaidAt          time.Time
	BillingReason   string
	PaymentMethod   string
}

type PaymentIntentPayload struct {
	ID            string
	CustomerID    string
	SubmissionID  string
	Amount        int64
	Currency      string
	PaymentMethod string
	ErrorCode     string
	ErrorMessage  string
}

type SubscriptionPayload struct {
	ID           string
	CustomerID   string
	ScheduleID   string
	SubmissionID string
	Status       string
	CanceledAt   time.Time
}

type SchedulePayload struct {
	ID             string
	SubscriptionID string
	CompletedAt    time.Time
	CanceledAt     time.Time
}

type ChargePayload struct {
	ID              string
	PaymentIntentID string
	AmountRefunded  int64
	Refunded        bool
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// ParseStripeEvent maps a verified gateway event onto the internal tagged
// union. ok is false for event types outside the handled set; those are
// acknowledged upstream without dispatch.
func ParseStripeEvent(ev stripe.Event) (*Event, bool, error) {
	kind := Kind(ev.Type)
	out := &Event{ID: ev.ID, Kind: kind}
	raw := []byte{}
	if ev.Data != nil {
		raw = ev.Data.Raw
	}

	switch kind {
	case KindInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, false, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p := &InvoicePayload{
			ID:            inv.ID,
			AmountPaid:    inv.AmountPaid,
			Currency:      string(inv.Currency),
			BillingReason: string(inv.BillingReason),
		}
		if inv.Subscription != nil {
			p.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			p.CustomerID = inv.Customer.ID
		}
		if inv.PaymentIntent != nil {
			p.PaymentIntentID = inv.PaymentIntent.ID
		}
		if inv.DefaultPaymentMethod != nil {
			p.PaymentMethod = inv.DefaultPaymentMethod.ID
		}
		if inv.StatusTransitions != nil {
			p.PaidAt = unixOrZero(inv.StatusTransitions.PaidAt)
		}
		out.Invoice = p

	case KindPaymentIntentSucceeded, KindPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, false, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p := &PaymentIntentPayload{
			ID:           pi.ID,
			Amount:       pi.Amount,
			Currency:     string(pi.Currency),
			SubmissionID: pi.Metadata["submission_id"],
		}
		if pi.Customer != nil {
			p.CustomerID = pi.Customer.ID
		}
		if pi.PaymentMethod != nil {
			p.PaymentMethod = pi.PaymentMethod.ID
		}
		if pi.LastPaymentError != nil {
			p.ErrorCode = string(pi.LastPaymentError.Code)
			p.ErrorMessage = pi.LastPaymentError.Msg
		}
		out.PaymentIntent = p

	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, false, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p := &SubscriptionPayload{
			ID:           sub.ID,
			Status:       string(sub.Status),
			SubmissionID: sub.Metadata["submission_id"],
			CanceledAt:   unixOrZero(sub.CanceledAt),
		}
		if sub.Customer != nil {
			p.CustomerID = sub.Customer.ID
		}
		if sub.Schedule != nil {
			p.ScheduleID = sub.Schedule.ID
		}
		out.Subscription = p

	case KindScheduleCompleted, KindScheduleCanceled:
		var sched stripe.SubscriptionSchedule
		if err := json.Unmarshal(raw, &sched); err != nil {
			return nil, false, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p := &SchedulePayload{
			ID:          sched.ID,
			CompletedAt: unixOrZero(sched.CompletedAt),
			CanceledAt:  unixOrZero(sched.CanceledAt),
		}
		if sched.Subscription != nil {
			p.SubscriptionID = sched.Subscription.ID
		}
		out.Schedule = p

	case KindChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, false, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		p := &ChargePayload{
			ID:             ch.ID,
			AmountRefunded: ch.AmountRefunded,
			Refunded:       ch.Refunded,
		}
		if ch.PaymentIntent != nil {
			p.PaymentIntentID = ch.PaymentIntent.ID
		}
		out.Charge = p

	default:
		return nil, false, nil
	}
	return out, true, nil
}
