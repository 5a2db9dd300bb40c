package submissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const submissionColumns = `id, session_id, status,
	IFNULL(stripe_customer_id,''), IFNULL(stripe_subscription_id,''),
	IFNULL(stripe_subscription_schedule_id,''), IFNULL(stripe_payment_id,''),
	IFNULL(payment_amount,0), IFNULL(currency,''), payment_completed_at,
	payment_metadata, form_data, created_at, updated_at`

func (r *Repository) scanSubmission(row *sql.Row) (*Submission, error) {
	var s Submission
	var completedAt sql.NullTime
	var paymentMeta, formData []byte
	err := row.Scan(&s.ID, &s.SessionID, &s.Status,
		&s.CustomerID, &s.SubscriptionID, &s.ScheduleID, &s.PaymentID,
		&s.PaymentAmount, &s.Currency, &completedAt,
		&paymentMeta, &formData, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.PaymentCompletedAt = &t
	}
	s.PaymentMetadata = json.RawMessage(paymentMeta)
	s.FormData = FormData(formData)
	return &s, nil
}

// GetSubmission returns the submission by id, or nil when absent.
func (r *Repository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM onboarding_submissions WHERE id=? LIMIT 1`, id)
	return r.scanSubmission(row)
}

func (r *Repository) FindByScheduleID(ctx context.Context, scheduleID string) (*Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM onboarding_submissions WHERE stripe_subscription_schedule_id=? LIMIT 1`, scheduleID)
	return r.scanSubmission(row)
}

func (r *Repository) FindByCustomerID(ctx context.Context, customerID string) (*Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM onboarding_submissions WHERE stripe_customer_id=? LIMIT 1`, customerID)
	return r.scanSubmission(row)
}

func (r *Repository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM onboarding_submissions WHERE stripe_subscription_id=? LIMIT 1`, subscriptionID)
	return r.scanSubmission(row)
}

// UpdateGatewayLinks stamps the gateway linkage columns. paymentID may be
// empty when the invoice has not settled yet.
func (r *Repository) UpdateGatewayLinks(ctx context.Context, id, customerID, subscriptionID, scheduleID, paymentID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE onboarding_submissions
		SET stripe_customer_id=?, stripe_subscription_id=?, stripe_subscription_schedule_id=?,
			stripe_payment_id=IF(?='', stripe_payment_id, ?), updated_at=NOW()
		WHERE id=?`,
		customerID, subscriptionID, scheduleID, paymentID, paymentID, id)
	return err
}

// ClearGatewayLinks drops stale gateway references before a retried checkout.
func (r *Repository) ClearGatewayLinks(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE onboarding_submissions
		SET stripe_subscription_id=NULL, stripe_subscription_schedule_id=NULL, updated_at=NOW()
		WHERE id=?`, id)
	return err
}

// UpdatePayment applies the payment-owned columns only, so a concurrent
// handler for another event type cannot be clobbered.
func (r *Repository) UpdatePayment(ctx context.Context, id string, p PaymentUpdate) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE onboarding_submissions
		SET status=?,
			stripe_payment_id=?,
			stripe_customer_id=IF(?='', stripe_customer_id, ?),
			stripe_subscription_id=IF(?='', stripe_subscription_id, ?),
			stripe_subscription_schedule_id=IF(?='', stripe_subscription_schedule_id, ?),
			payment_amount=?, currency=?, payment_completed_at=?, payment_metadata=?, updated_at=NOW()
		WHERE id=?`,
		p.Status, p.PaymentID,
		p.CustomerID, p.CustomerID,
		p.SubscriptionID, p.SubscriptionID,
		p.ScheduleID, p.ScheduleID,
		p.Amount, p.Currency, p.CompletedAt, meta, id)
	return err
}

func (r *Repository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE onboarding_submissions SET status=?, updated_at=NOW() WHERE id=?`, status, id)
	return err
}

// AppendAnalyticsEvent adds one row to the append-only analytics log.
func (r *Repository) AppendAnalyticsEvent(ctx context.Context, sessionID, eventType string, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	var sid any
	if sessionID != "" {
		sid = sessionID
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO onboarding_analytics (session_id, event_type, metadata) VALUES (?,?,?)`,
		sid, eventType, meta)
	return err
}

// CountAnalyticsEvents counts events of one type for a session since the
// given time. Used for the payment-attempt rate limit.
func (r *Repository) CountAnalyticsEvents(ctx context.Context, sessionID, eventType string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM onboarding_analytics WHERE session_id=? AND event_type=? AND created_at >= ?`,
		sessionID, eventType, since).Scan(&count)
	return count, err
}

// MarkEventProcessed records a webhook event id. Returns false when the id
// was already recorded, which makes re-delivered events no-ops.
func (r *Repository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO webhook_events (event_id, event_type, status) VALUES (?,?,'processing')`,
		eventID, eventType)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 { // duplicate key
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetEventOutcome stamps the terminal status of a processed webhook event.
func (r *Repository) SetEventOutcome(ctx context.Context, eventID, status, errMsg string) error {
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET status=?, error_message=?, completed_at=NOW() WHERE event_id=?`,
		status, msg, eventID)
	return err
}
