package webhooks

import (
	"context"
	"log"
	"strings"
	"time"

	"onboarding-backend/checkout"
	"onboarding-backend/submissions"
)

// Store is the slice of the submission store the reconciler needs.
// *submissions.Repository satisfies it.
type Store interface {
	GetSubmission(ctx context.Context, id string) (*submissions.Submission, error)
	FindByScheduleID(ctx context.Context, scheduleID string) (*submissions.Submission, error)
	FindByCustomerID(ctx context.Context, customerID string) (*submissions.Submission, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*submissions.Submission, error)
	UpdatePayment(ctx context.Context, id string, p submissions.PaymentUpdate) error
	UpdateGatewayLinks(ctx context.Context, id, customerID, subscriptionID, scheduleID, paymentID string) error
	UpdateStatus(ctx context.Context, id, status string) error
	AppendAnalyticsEvent(ctx context.Context, sessionID, eventType string, metadata map[string]any) error
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	SetEventOutcome(ctx context.Context, eventID, status, errMsg string) error
}

// SubscriptionRetriever enriches lookups for events that do not carry a
// schedule id directly. checkout.Gateway satisfies it.
type SubscriptionRetriever interface {
	RetrieveSubscription(ctx context.Context, id string) (*checkout.Subscription, error)
}

// Notifier dispatches the payment confirmation. Fire-and-forget: failures are
// logged and never fail the webhook.
type Notifier interface {
	SendPaymentConfirmation(submissionID, businessName, email string, amount int64, currency, paymentID string, addOnCodes []string) error
}

// Reconciler applies gateway-pushed events onto submissions. Stateless per
// call; every handler is independently idempotent against re-delivery, and
// delivery order is not assumed.
type Reconciler struct {
	store    Store
	gateway  SubscriptionRetriever // may be nil; lookups then skip enrichment
	notifier Notifier              // may be nil
}

func NewReconciler(store Store, gateway SubscriptionRetriever, notifier Notifier) *Reconciler {
	return &Reconciler{store: store, gateway: gateway, notifier: notifier}
}

// Process drives one event to its terminal outcome. A re-delivered event id
// is acknowledged without side effects. Handler errors are recorded on the
// event row and returned; they never panic the caller.
func (r *Reconciler) Process(ctx context.Context, ev *Event) error {
	fresh, err := r.store.MarkEventProcessed(ctx, ev.ID, string(ev.Kind))
	if err != nil {
		return err
	}
	if !fresh {
		log.Printf("[webhook][dedup] event=%s type=%s already processed", ev.ID, ev.Kind)
		return nil
	}

	err = r.dispatch(ctx, ev)
	if err != nil {
		log.Printf("[webhook][%s] event=%s failed: %v", ev.Kind, ev.ID, err)
		if oerr := r.store.SetEventOutcome(ctx, ev.ID, "failed", err.Error()); oerr != nil {
			log.Printf("[webhook][outcome] event=%s status update failed: %v", ev.ID, oerr)
		}
		return err
	}
	if oerr := r.store.SetEventOutcome(ctx, ev.ID, "completed", ""); oerr != nil {
		log.Printf("[webhook][outcome] event=%s status update failed: %v", ev.ID, oerr)
	}
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case KindInvoicePaid:
		return r.handleInvoicePaid(ctx, ev)
	case KindPaymentIntentSucceeded:
		return r.handlePaymentIntentSucceeded(ctx, ev)
	case KindSubscriptionCreated:
		return r.handleSubscriptionCreated(ctx, ev)
	case KindSubscriptionUpdated:
		return r.logOnly(ctx, ev, "subscription_updated", map[string]any{
			"subscription_id": ev.Subscription.ID,
			"status":          ev.Subscription.Status,
		})
	case KindSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, ev)
	case KindScheduleCompleted:
		return r.logOnly(ctx, ev, "schedule_completed", map[string]any{
			"schedule_id":  ev.Schedule.ID,
			"completed_at": ev.Schedule.CompletedAt,
		})
	case KindScheduleCanceled:
		return r.logOnly(ctx, ev, "schedule_canceled", map[string]any{
			"schedule_id": ev.Schedule.ID,
			"canceled_at": ev.Schedule.CanceledAt,
		})
	case KindChargeRefunded:
		// No automatic status change: refund handling is a business
		// decision, not a state transition.
		return r.logOnly(ctx, ev, "charge_refunded", map[string]any{
			"charge_id":         ev.Charge.ID,
			"payment_intent_id": ev.Charge.PaymentIntentID,
			"amount_refunded":   ev.Charge.AmountRefunded,
			"refunded":          ev.Charge.Refunded,
		})
	case KindPaymentIntentFailed:
		// Status stays untouched so the user can retry.
		return r.logOnly(ctx, ev, "payment_failed", map[string]any{
			"payment_intent_id": ev.PaymentIntent.ID,
			"error_code":        ev.PaymentIntent.ErrorCode,
			"error_message":     ev.PaymentIntent.ErrorMessage,
		})
	}
	log.Printf("[webhook][dispatch] event=%s unhandled kind %s", ev.ID, ev.Kind)
	return nil
}

// lookupRef carries the candidate identifiers for submission lookup.
type lookupRef struct {
	ScheduleID     string
	CustomerID     string
	SubscriptionID string
	SubmissionID   string
}

func (r *Reconciler) buildLookupRef(ctx context.Context, ev *Event) lookupRef {
	var ref lookupRef
	switch {
	case ev.Subscription != nil:
		ref.SubscriptionID = ev.Subscription.ID
		ref.CustomerID = ev.Subscription.CustomerID
		ref.ScheduleID = ev.Subscription.ScheduleID
		ref.SubmissionID = ev.Subscription.SubmissionID
	case ev.Invoice != nil:
		ref.SubscriptionID = ev.Invoice.SubscriptionID
		ref.CustomerID = ev.Invoice.CustomerID
		// The invoice does not carry the schedule id; pull it from the
		// subscription when the gateway is reachable. Best effort only.
		if ref.SubscriptionID != "" && r.gateway != nil {
			sub, err := r.gateway.RetrieveSubscription(ctx, ref.SubscriptionID)
			if err != nil {
				log.Printf("[webhook][lookup] subscription=%s retrieve failed: %v", ref.SubscriptionID, err)
			} else if sub != nil {
				ref.ScheduleID = sub.ScheduleID
				ref.SubmissionID = sub.Metadata["submission_id"]
			}
		}
	case ev.PaymentIntent != nil:
		ref.CustomerID = ev.PaymentIntent.CustomerID
		ref.SubmissionID = ev.PaymentIntent.SubmissionID
	case ev.Schedule != nil:
		ref.ScheduleID = ev.Schedule.ID
		ref.SubscriptionID = ev.Schedule.SubscriptionID
	}
	return ref
}

// findSubmission tries each lookup strategy in order until one matches:
// schedule id first (least likely to collide), then customer id, then
// subscription id, then the submission id carried in event metadata.
func (r *Reconciler) findSubmission(ctx context.Context, ref lookupRef) (*submissions.Submission, string, error) {
	if ref.ScheduleID != "" {
		sub, err := r.store.FindByScheduleID(ctx, ref.ScheduleID)
		if err != nil {
			return nil, "", err
		}
		if sub != nil {
			return sub, "schedule_id", nil
		}
	}
	if ref.CustomerID != "" {
		sub, err := r.store.FindByCustomerID(ctx, ref.CustomerID)
		if err != nil {
			return nil, "", err
		}
		if sub != nil {
			return sub, "customer_id", nil
		}
	}
	if ref.SubscriptionID != "" {
		sub, err := r.store.FindBySubscriptionID(ctx, ref.SubscriptionID)
		if err != nil {
			return nil, "", err
		}
		if sub != nil {
			return sub, "subscription_id", nil
		}
	}
	if ref.SubmissionID != "" {
		sub, err := r.store.GetSubmission(ctx, ref.SubmissionID)
		if err != nil {
			return nil, "", err
		}
		if sub != nil {
			return sub, "metadata", nil
		}
	}
	return nil, "", nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, ev *Event) error {
	inv := ev.Invoice
	ref := r.buildLookupRef(ctx, ev)
	sub, foundBy, err := r.findSubmission(ctx, ref)
	if err != nil {
		return err
	}
	if sub == nil {
		// The event may belong to a gateway resource this system never
		// tracked; a no-op, not a failure.
		log.Printf("[webhook][invoice.paid] event=%s code=%s subscription=%s no submission", ev.ID, checkout.ErrSubmissionNotFound, inv.SubscriptionID)
		return nil
	}

	scheduleID := ref.ScheduleID
	if scheduleID == "" {
		scheduleID = sub.ScheduleID
	}
	paidAt := inv.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	err = r.store.UpdatePayment(ctx, sub.ID, submissions.PaymentUpdate{
		Status:         submissions.StatusPaid,
		PaymentID:      inv.PaymentIntentID,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		ScheduleID:     scheduleID,
		Amount:         inv.AmountPaid,
		Currency:       strings.ToUpper(inv.Currency),
		CompletedAt:    paidAt,
		Metadata: map[string]any{
			"invoice_id":     inv.ID,
			"payment_method": inv.PaymentMethod,
			"billing_reason": inv.BillingReason,
			"schedule_id":    scheduleID,
		},
	})
	if err != nil {
		return err
	}
	log.Printf("[webhook][invoice.paid] event=%s submission=%s found_by=%s status=paid", ev.ID, sub.ID, foundBy)

	if err := r.store.AppendAnalyticsEvent(ctx, sub.SessionID, "payment_succeeded", map[string]any{
		"submission_id":     sub.ID,
		"stripe_payment_id": inv.PaymentIntentID,
		"amount":            inv.AmountPaid,
		"currency":          inv.Currency,
	}); err != nil {
		log.Printf("[webhook][invoice.paid] submission=%s analytics append failed: %v", sub.ID, err)
	}

	r.notifyPayment(sub, inv.AmountPaid, strings.ToUpper(inv.Currency), inv.PaymentIntentID)
	return nil
}

// handlePaymentIntentSucceeded covers flows where the invoice event is not
// authoritative, e.g. instant charges.
func (r *Reconciler) handlePaymentIntentSucceeded(ctx context.Context, ev *Event) error {
	pi := ev.PaymentIntent
	ref := r.buildLookupRef(ctx, ev)
	sub, foundBy, err := r.findSubmission(ctx, ref)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Printf("[webhook][payment_intent.succeeded] event=%s code=%s payment_intent=%s no submission", ev.ID, checkout.ErrSubmissionNotFound, pi.ID)
		return nil
	}

	err = r.store.UpdatePayment(ctx, sub.ID, submissions.PaymentUpdate{
		Status:      submissions.StatusPaid,
		PaymentID:   pi.ID,
		CustomerID:  pi.CustomerID,
		Amount:      pi.Amount,
		Currency:    strings.ToUpper(pi.Currency),
		CompletedAt: time.Now().UTC(),
		Metadata: map[string]any{
			"payment_intent_id": pi.ID,
			"payment_method":    pi.PaymentMethod,
		},
	})
	if err != nil {
		return err
	}
	log.Printf("[webhook][payment_intent.succeeded] event=%s submission=%s found_by=%s status=paid", ev.ID, sub.ID, foundBy)

	if err := r.store.AppendAnalyticsEvent(ctx, sub.SessionID, "payment_succeeded", map[string]any{
		"submission_id":     sub.ID,
		"payment_intent_id": pi.ID,
		"amount":            pi.Amount,
		"currency":          pi.Currency,
	}); err != nil {
		log.Printf("[webhook][payment_intent.succeeded] submission=%s analytics append failed: %v", sub.ID, err)
	}

	r.notifyPayment(sub, pi.Amount, strings.ToUpper(pi.Currency), pi.ID)
	return nil
}

func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, ev *Event) error {
	payload := ev.Subscription
	ref := r.buildLookupRef(ctx, ev)
	sub, foundBy, err := r.findSubmission(ctx, ref)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Printf("[webhook][subscription.created] event=%s subscription=%s no submission", ev.ID, payload.ID)
		return nil
	}

	// A differing id indicates a race with a stale-resource reset; stamp the
	// newer one but leave a trace.
	if sub.SubscriptionID != "" && sub.SubscriptionID != payload.ID {
		log.Printf("[webhook][subscription.created] submission=%s replacing subscription %s with %s", sub.ID, sub.SubscriptionID, payload.ID)
	}

	if err := r.store.UpdateGatewayLinks(ctx, sub.ID, payload.CustomerID, payload.ID, payload.ScheduleID, ""); err != nil {
		return err
	}
	log.Printf("[webhook][subscription.created] event=%s submission=%s found_by=%s subscription=%s", ev.ID, sub.ID, foundBy, payload.ID)

	if err := r.store.AppendAnalyticsEvent(ctx, sub.SessionID, "subscription_created", map[string]any{
		"submission_id":   sub.ID,
		"subscription_id": payload.ID,
		"customer_id":     payload.CustomerID,
		"schedule_id":     payload.ScheduleID,
	}); err != nil {
		log.Printf("[webhook][subscription.created] submission=%s analytics append failed: %v", sub.ID, err)
	}
	return nil
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, ev *Event) error {
	payload := ev.Subscription
	ref := r.buildLookupRef(ctx, ev)
	sub, _, err := r.findSubmission(ctx, ref)
	if err != nil {
		return err
	}
	if sub != nil {
		if err := r.store.UpdateStatus(ctx, sub.ID, submissions.StatusCancelled); err != nil {
			return err
		}
		log.Printf("[webhook][subscription.deleted] event=%s submission=%s status=cancelled", ev.ID, sub.ID)
	}
	return r.appendUnscoped(ctx, "subscription_deleted", map[string]any{
		"subscription_id": payload.ID,
		"canceled_at":     payload.CanceledAt,
	})
}

// logOnly records the event in the analytics log without touching any
// submission.
func (r *Reconciler) logOnly(ctx context.Context, ev *Event, eventType string, metadata map[string]any) error {
	return r.appendUnscoped(ctx, eventType, metadata)
}

func (r *Reconciler) appendUnscoped(ctx context.Context, eventType string, metadata map[string]any) error {
	return r.store.AppendAnalyticsEvent(ctx, "", eventType, metadata)
}

func (r *Reconciler) notifyPayment(sub *submissions.Submission, amount int64, currency, paymentID string) {
	if r.notifier == nil {
		return
	}
	email := sub.FormData.CustomerEmail()
	if email == "" {
		email = "unknown@example.com"
	}
	err := r.notifier.SendPaymentConfirmation(sub.ID, sub.FormData.BusinessName(), email, amount, currency, paymentID, sub.FormData.AddOnCodes())
	if err != nil {
		log.Printf("[webhook][notify] submission=%s payment notification failed: %v", sub.ID, err)
	}
}
