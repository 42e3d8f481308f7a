package store

import "clinic/reception-service/internal/models"

// InvoiceStatus derives the invoice status from its amount and paid total.
func InvoiceStatus(amount, paid models.Money) string {
	switch {
	case paid >= amount:
		return models.InvoicePaid
	case paid > 0:
		return models.InvoicePartiallyPaid
	default:
		return models.InvoiceUnpaid
	}
}

// CheckInvoiceAmount validates a new amount against what is already paid.
// A settled invoice keeps its amount so its status never leaves paid.
func CheckInvoiceAmount(current, paid, next models.Money) error {
	if next <= 0 {
		return ErrInvalidAmount
	}
	if next < paid {
		return ErrAmountBelowPaid
	}
	if paid > 0 && paid >= current && next > paid {
		return ErrInvoiceSettled
	}
	return nil
}

func CheckPayment(amount, paid, payment models.Money) error {
	if payment <= 0 {
		return ErrInvalidAmount
	}
	if payment > amount-paid {
		return ErrOverpayment
	}
	return nil
}

// ApplyPayment returns the invoice after a valid payment.
func ApplyPayment(invoice models.Invoice, payment models.Money) (models.Invoice, error) {
	if err := CheckPayment(invoice.Amount, invoice.Paid, payment); err != nil {
		return invoice, err
	}
	invoice.Paid += payment
	invoice.Remaining = invoice.Amount - invoice.Paid
	invoice.Status = InvoiceStatus(invoice.Amount, invoice.Paid)
	return invoice, nil
}
