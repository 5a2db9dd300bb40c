package submissions

import (
	"encoding/json"
	"time"
)

// Submission statuses. Status only regresses (paid -> submitted) through an
// explicit reset, never as a side effect of another update.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

type Submission struct {
	ID                 string          `json:"id"`
	SessionID          string          `json:"session_id"`
	Status             string          `json:"status"`
	CustomerID         string          `json:"stripe_customer_id,omitempty"`
	SubscriptionID     string          `json:"stripe_subscription_id,omitempty"`
	ScheduleID         string          `json:"stripe_subscription_schedule_id,omitempty"`
	PaymentID          string          `json:"stripe_payment_id,omitempty"`
	PaymentAmount      int64           `json:"payment_amount,omitempty"`
	Currency           string          `json:"currency,omitempty"`
	PaymentCompletedAt *time.Time      `json:"payment_completed_at,omitempty"`
	PaymentMetadata    json.RawMessage `json:"payment_metadata,omitempty"`
	FormData           FormData        `json:"form_data,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// FormData holds the raw wizard answers. The shape changed over time, so the
// accessors probe the known locations instead of binding a fixed struct.
type FormData json.RawMessage

type formFields struct {
	Email               string   `json:"email"`
	BusinessEmail       string   `json:"businessEmail"`
	BusinessName        string   `json:"businessName"`
	AdditionalLanguages []string `json:"additionalLanguages"`
	Step3               struct {
		BusinessEmail string `json:"businessEmail"`
		BusinessName  string `json:"businessName"`
	} `json:"step3"`
	Step13 struct {
		AdditionalLanguages []string `json:"additionalLanguages"`
	} `json:"step13"`
}

func (f FormData) fields() formFields {
	var ff formFields
	if len(f) > 0 {
		_ = json.Unmarshal(f, &ff)
	}
	return ff
}

// CustomerEmail returns the billing email, trying each known location in
// order. Empty when no location holds one.
func (f FormData) CustomerEmail() string {
	ff := f.fields()
	if ff.Email != "" {
		return ff.Email
	}
	if ff.BusinessEmail != "" {
		return ff.BusinessEmail
	}
	return ff.Step3.BusinessEmail
}

// BusinessName returns the business display name, or "Unknown Business".
func (f FormData) BusinessName() string {
	ff := f.fields()
	if ff.BusinessName != "" {
		return ff.BusinessName
	}
	if ff.Step3.BusinessName != "" {
		return ff.Step3.BusinessName
	}
	return "Unknown Business"
}

// AddOnCodes returns the add-on codes selected during the wizard.
func (f FormData) AddOnCodes() []string {
	ff := f.fields()
	if len(ff.AdditionalLanguages) > 0 {
		return ff.AdditionalLanguages
	}
	return ff.Step13.AdditionalLanguages
}

// PaymentUpdate is the field-scoped write applied when a payment settles.
// Only the payment-owned columns are touched.
type PaymentUpdate struct {
	Status         string
	PaymentID      string
	CustomerID     string
	SubscriptionID string
	ScheduleID     string
	Amount         int64
	Currency       string
	CompletedAt    time.Time
	Metadata       map[string]any
}
