package migrations

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

var db *sql.DB

// Init sets the DB connection for migrations and seed helpers
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createSubmissions := `
	CREATE TABLE IF NOT EXISTS onboarding_submissions (
		id CHAR(36) PRIMARY KEY,
		session_id CHAR(36) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'draft',
		stripe_customer_id VARCHAR(191) NULL,
		stripe_subscription_id VARCHAR(191) NULL,
		stripe_subscription_schedule_id VARCHAR(191) NULL,
		stripe_payment_id VARCHAR(191) NULL,
		payment_amount BIGINT NULL,
		currency VARCHAR(10) NULL,
		payment_completed_at DATETIME NULL,
		payment_metadata JSON NULL,
		form_data JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_submissions_session (session_id),
		INDEX idx_submissions_schedule (stripe_subscription_schedule_id),
		INDEX idx_submissions_customer (stripe_customer_id),
		INDEX idx_submissions_subscription (stripe_subscription_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubmissions); err != nil {
		return err
	}

	createAnalytics := `
	CREATE TABLE IF NOT EXISTS onboarding_analytics (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		session_id CHAR(36) NULL,
		event_type VARCHAR(100) NOT NULL,
		metadata JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_analytics_session_type (session_id, event_type, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createAnalytics); err != nil {
		return err
	}

	// Unique event_id makes webhook re-delivery a no-op at insert time
	createWebhookEvents := `
	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id VARCHAR(191) PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'processing',
		error_message TEXT NULL,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createWebhookEvents); err != nil {
		return err
	}
	return nil
}

// SeedDemoSubmission inserts a submitted demo record if the table is empty.
// Intended for local development only.
func SeedDemoSubmission() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM onboarding_submissions").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	formData := `{"email":"demo@example.com","businessName":"Demo Business","additionalLanguages":["de","fr"]}`
	_, err := db.Exec(
		"INSERT INTO onboarding_submissions (id, session_id, status, form_data) VALUES (?, ?, 'submitted', ?)",
		uuid.NewString(), uuid.NewString(), formData,
	)
	return err
}
