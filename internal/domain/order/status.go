package order

import (
	"fmt"
	"strings"
)

// Status is an order's position in its lifecycle.
type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusReturned       Status = "RETURNED"
)

var knownStatuses = map[Status]struct{}{
	StatusPendingPayment: {},
	StatusPaid:           {},
	StatusProcessing:     {},
	StatusShipped:        {},
	StatusDelivered:      {},
	StatusCancelled:      {},
	StatusReturned:       {},
}

// InvalidStatusError indicates a status label that names no known status.
type InvalidStatusError struct {
	Label string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status: %q", e.Label)
}

// ParseStatus maps a case-insensitive label to a Status.
func ParseStatus(label string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(label)))
	if _, ok := knownStatuses[st]; !ok {
		return "", &InvalidStatusError{Label: label}
	}
	return st, nil
}
