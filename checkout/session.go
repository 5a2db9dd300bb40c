package checkout

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"onboarding-backend/submissions"
)

const (
	maxPaymentAttempts = 5
	rateLimitWindow    = time.Hour
)

// Store is the slice of the submission store the orchestrator needs.
// *submissions.Repository satisfies it.
type Store interface {
	GetSubmission(ctx context.Context, id string) (*submissions.Submission, error)
	UpdateGatewayLinks(ctx context.Context, id, customerID, subscriptionID, scheduleID, paymentID string) error
	ClearGatewayLinks(ctx context.Context, id string) error
	AppendAnalyticsEvent(ctx context.Context, sessionID, eventType string, metadata map[string]any) error
	CountAnalyticsEvents(ctx context.Context, sessionID, eventType string, since time.Time) (int, error)
}

// Service orchestrates the checkout chain: sequential gateway calls with the
// submission record as the trust boundary.
type Service struct {
	gw          Gateway
	store       Store
	basePriceID string
	now         func() time.Time
}

func NewService(gw Gateway, store Store, basePriceID string) *Service {
	return &Service{gw: gw, store: store, basePriceID: basePriceID, now: time.Now}
}

// NewServiceFromEnv reads the recurring price id from STRIPE_BASE_PRICE_ID.
func NewServiceFromEnv(gw Gateway, store Store) *Service {
	return NewService(gw, store, os.Getenv("STRIPE_BASE_PRICE_ID"))
}

type Request struct {
	SubmissionID string   `json:"submission_id"`
	AddOnCodes   []string `json:"additional_languages"`
	DiscountCode string   `json:"discount_code"`
}

type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	TotalAmount int64  `json:"total_amount"`
	Recurring   bool   `json:"recurring"`
}

type Result struct {
	Success         bool       `json:"success"`
	PaymentRequired bool       `json:"payment_required"`
	AuthToken       string     `json:"auth_token,omitempty"`
	InvoiceID       string     `json:"invoice_id"`
	InvoiceTotal    int64      `json:"invoice_total"`
	InvoiceDiscount int64      `json:"invoice_discount"`
	DiscountID      string     `json:"discount_id,omitempty"`
	CustomerID      string     `json:"customer_id"`
	SubscriptionID  string     `json:"subscription_id"`
	ScheduleID      string     `json:"schedule_id"`
	Currency        string     `json:"currency"`
	LineItems       []LineItem `json:"line_items"`
}

// CreateSession runs the checkout chain for a submitted record. Validation
// failures return before any gateway mutation; gateway failures may leave
// inert orphaned resources but never a submission referencing an unconfirmed
// resource.
func (s *Service) CreateSession(ctx context.Context, req Request) (*Result, error) {
	sub, err := s.store.GetSubmission(ctx, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("submission fetch: %w", err)
	}
	if sub == nil {
		return nil, NewError(ErrInvalidSubmissionID, "submission not found or not in submitted status")
	}

	// The stored record is the trust boundary; the caller-supplied list is
	// only a fallback when the wizard answers carry no add-ons.
	codes := sub.FormData.AddOnCodes()
	if len(codes) == 0 {
		codes = req.AddOnCodes
	}

	// A linked subscription means a previously-started checkout was abandoned
	// or failed. Cancel the stale resources and start clean; a half-finished
	// checkout is never reused.
	if sub.SubscriptionID != "" || sub.ScheduleID != "" {
		s.resetStaleResources(ctx, sub)
	}

	if invalid := InvalidAddOnCodes(codes); len(invalid) > 0 {
		return nil, NewError(ErrInvalidAddOnCode, "invalid add-on codes: "+strings.Join(invalid, ", "))
	}

	attempts, err := s.store.CountAnalyticsEvents(ctx, sub.SessionID, "payment_attempt", s.now().Add(-rateLimitWindow))
	if err != nil {
		return nil, fmt.Errorf("rate limit count: %w", err)
	}
	if attempts >= maxPaymentAttempts {
		return nil, NewError(ErrRateLimitExceeded, "too many payment attempts, try again in 1 hour")
	}
	// Logged before the outcome is known: the attempt counter is an abuse
	// control, not a success marker.
	if err := s.store.AppendAnalyticsEvent(ctx, sub.SessionID, "payment_attempt", map[string]any{
		"submission_id": sub.ID,
		"addon_count":   len(codes),
	}); err != nil {
		log.Printf("[checkout][attempt] submission=%s analytics append failed: %v", sub.ID, err)
	}

	email := sub.FormData.CustomerEmail()
	if email == "" {
		return nil, NewError(ErrMissingCustomerEmail, "customer email not found in submission")
	}
	businessName := sub.FormData.BusinessName()

	meta := map[string]string{"submission_id": sub.ID, "session_id": sub.SessionID}
	customer, err := s.resolveCustomer(ctx, email, businessName, meta)
	if err != nil {
		return nil, err
	}

	var coupon *Coupon
	if req.DiscountCode != "" {
		coupon, err = s.ValidateDiscount(ctx, req.DiscountCode)
		if err != nil {
			return nil, err
		}
		if coupon == nil {
			return nil, NewError(ErrInvalidDiscountCode, "discount code '"+req.DiscountCode+"' is not valid or has expired")
		}
	}

	couponID := ""
	if coupon != nil {
		couponID = coupon.ID
	}
	schedule, subscription, err := s.createCommitmentSchedule(ctx, customer.ID, couponID, meta)
	if err != nil {
		return nil, err
	}

	addOns, err := s.attachAddOns(ctx, customer.ID, subscription, codes, coupon, meta)
	if err != nil {
		return nil, err
	}

	// If the zero-due fork already settled the invoice, stamp the payment id
	// now; the webhook confirms the rest. Persistence failure is logged, not
	// rolled back: the gateway resources exist and the webhook path catches
	// the store up.
	paymentID := ""
	if !addOns.PaymentRequired {
		paymentID = addOns.PaymentID
	}
	if err := s.store.UpdateGatewayLinks(ctx, sub.ID, customer.ID, subscription.ID, schedule.ID, paymentID); err != nil {
		log.Printf("[checkout][persist] submission=%s schedule=%s link update failed: %v", sub.ID, schedule.ID, err)
	}

	result := &Result{
		Success:         true,
		PaymentRequired: addOns.PaymentRequired,
		AuthToken:       addOns.AuthToken,
		InvoiceID:       addOns.InvoiceID,
		InvoiceTotal:    addOns.Total,
		InvoiceDiscount: addOns.DiscountApplied,
		DiscountID:      couponID,
		CustomerID:      customer.ID,
		SubscriptionID:  subscription.ID,
		ScheduleID:      schedule.ID,
		Currency:        strings.ToUpper(BaseCurrency),
		LineItems:       buildLineItems(codes),
	}
	return result, nil
}

// resetStaleResources best-effort cancels the gateway resources a previous
// checkout attempt left behind, then clears the stale references. Each
// cancellation outcome is logged separately so orphan accumulation at the
// gateway stays visible; failures never block the new checkout.
func (s *Service) resetStaleResources(ctx context.Context, sub *submissions.Submission) {
	if sub.ScheduleID != "" {
		if err := s.gw.CancelSchedule(ctx, sub.ScheduleID); err != nil {
			log.Printf("[checkout][reset] submission=%s schedule=%s cancel failed: %v", sub.ID, sub.ScheduleID, err)
		} else {
			log.Printf("[checkout][reset] submission=%s schedule=%s cancelled", sub.ID, sub.ScheduleID)
		}
	}
	if sub.SubscriptionID != "" {
		if err := s.gw.CancelSubscription(ctx, sub.SubscriptionID); err != nil {
			log.Printf("[checkout][reset] submission=%s subscription=%s cancel failed: %v", sub.ID, sub.SubscriptionID, err)
		} else {
			log.Printf("[checkout][reset] submission=%s subscription=%s cancelled", sub.ID, sub.SubscriptionID)
		}
	}
	if err := s.store.ClearGatewayLinks(ctx, sub.ID); err != nil {
		log.Printf("[checkout][reset] submission=%s link clear failed: %v", sub.ID, err)
		return
	}
	sub.SubscriptionID = ""
	sub.ScheduleID = ""
}

func buildLineItems(codes []string) []LineItem {
	items := []LineItem{{
		Description: "Base Package",
		Quantity:    1,
		UnitAmount:  BaseAmount,
		TotalAmount: BaseAmount,
		Recurring:   true,
	}}
	for _, code := range codes {
		addOn, ok := LookupAddOn(code)
		if !ok {
			continue
		}
		items = append(items, LineItem{
			Description: addOn.Name + " Language Add-on",
			Quantity:    1,
			UnitAmount:  AddOnAmount,
			TotalAmount: AddOnAmount,
			Recurring:   false,
		})
	}
	return items
}
