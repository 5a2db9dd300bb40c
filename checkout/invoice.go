package checkout

import (
	"context"
	"log"
)

// AddOnResult is the outcome of finalizing the first invoice. When the
// discount covers the full amount, PaymentRequired is false and AuthToken is
// empty: the client must not render a payment form for a settled invoice.
type AddOnResult struct {
	InvoiceID       string
	PaymentRequired bool
	AuthToken       string
	PaymentID       string
	Total           int64
	DiscountApplied int64
}

// attachAddOns creates one-time line items for each add-on on the
// subscription's current invoice, applies the discount to the invoice,
// finalizes it and extracts the payment authorization.
func (s *Service) attachAddOns(ctx context.Context, customerID string, subscription *Subscription, codes []string, coupon *Coupon, metadata map[string]string) (*AddOnResult, error) {
	invoiceID := subscription.LatestInvoiceID
	if invoiceID == "" {
		return nil, NewError(ErrGateway, "subscription "+subscription.ID+" has no current invoice")
	}

	for _, code := range codes {
		addOn, ok := LookupAddOn(code)
		if !ok {
			// Callers validate against the catalog first; reaching this
			// means the validation step was skipped.
			return nil, NewError(ErrInvalidAddOnCode, "unknown add-on code: "+code)
		}
		meta := map[string]string{"addon_code": code, "one_time": "true"}
		for k, v := range metadata {
			meta[k] = v
		}
		err := s.gw.AddInvoiceItem(ctx, InvoiceItemParams{
			CustomerID:  customerID,
			InvoiceID:   invoiceID,
			Amount:      AddOnAmount,
			Currency:    BaseCurrency,
			Description: addOn.Name + " Language Add-on",
			Metadata:    meta,
		})
		if err != nil {
			return nil, WrapGateway(err, "add-on line item creation failed")
		}
	}

	// The invoice bundles the first recurring charge and the add-ons, so the
	// discount goes on the invoice too, not only on the schedule phase.
	if coupon != nil {
		if err := s.gw.AttachInvoiceDiscount(ctx, invoiceID, coupon.ID); err != nil {
			return nil, WrapGateway(err, "invoice discount attachment failed")
		}
	}

	invoice, err := s.gw.FinalizeInvoice(ctx, invoiceID)
	if err != nil {
		return nil, WrapGateway(err, "invoice finalization failed")
	}

	result := &AddOnResult{
		InvoiceID:       invoice.ID,
		Total:           invoice.Total,
		DiscountApplied: invoice.DiscountAmount,
		PaymentID:       invoice.PaymentIntentID,
	}

	if invoice.AmountDue <= 0 {
		// The gateway marks zero-amount invoices paid on finalization.
		log.Printf("[checkout][invoice] invoice=%s amount_due=%d settled without payment", invoice.ID, invoice.AmountDue)
		result.PaymentRequired = false
		return result, nil
	}

	if invoice.ClientSecret == "" {
		return nil, NewError(ErrGateway, "finalized invoice "+invoice.ID+" carries no payment authorization")
	}
	result.PaymentRequired = true
	result.AuthToken = invoice.ClientSecret
	return result, nil
}
