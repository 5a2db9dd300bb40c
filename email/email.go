package email

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
	"strings"
)

// Dispatcher sends operational notifications to the admin mailbox.
type Dispatcher struct {
	adminEmail string
}

// NewDispatcherFromEnv returns a dispatcher or nil when ADMIN_EMAIL is unset.
func NewDispatcherFromEnv() *Dispatcher {
	admin := os.Getenv("ADMIN_EMAIL")
	if admin == "" {
		admin = os.Getenv("NOTIFICATION_ADMIN_EMAIL")
	}
	if admin == "" {
		return nil
	}
	return &Dispatcher{adminEmail: admin}
}

func send(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return fmt.Errorf("SMTP environment variables missing")
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	auth := smtp.PlainAuth("", user, pass, host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

// SendPaymentConfirmation notifies the admin that a submission was paid.
func (d *Dispatcher) SendPaymentConfirmation(submissionID, businessName, customerEmail string, amount int64, currency, paymentID string, addOnCodes []string) error {
	subject := fmt.Sprintf("Payment received - %s", businessName)
	addOns := "none"
	if len(addOnCodes) > 0 {
		addOns = strings.Join(addOnCodes, ", ")
	}
	body := fmt.Sprintf(`A new onboarding payment was completed.

Submission: %s
Business:   %s
Customer:   %s
Amount:     %d.%02d %s
Payment:    %s
Add-ons:    %s`,
		submissionID, businessName, customerEmail,
		amount/100, amount%100, currency, paymentID, addOns)
	if err := send(d.adminEmail, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] payment confirmation sent to %s for submission %s", d.adminEmail, submissionID)
	return nil
}
