// Package lightning abstracts the Lightning backend the mint settles
// mint/melt quotes against. Client is the full capability surface; CLNClient
// and LndClient are the two concrete backends.
package lightning

import "context"

// PaymentStatusKind is the outcome of an outbound or inbound payment.
type PaymentStatusKind int

const (
	Pending PaymentStatusKind = iota
	Succeeded
	Failed
)

func (s PaymentStatusKind) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

// Invoice is an inbound payment request the backend is tracking. Preimage is
// only populated once Paid is true; it lets an internally-settled melt quote
// (wallet pays its own mint's invoice) reuse the same preimage as proof of
// payment without a second round trip to the backend.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Amount         uint64
	Paid           bool
	Preimage       string
	Expiry         int64
}

// PaymentStatus is the current state of an outbound payment.
type PaymentStatus struct {
	Status      PaymentStatusKind
	Preimage    string
	PaymentFee  uint64
}

// PaymentQuote is the upfront cost estimate for an outbound payment,
// matching the checking_id/amount/fee_reserve triple the core needs before
// committing a melt quote.
type PaymentQuote struct {
	CheckingId string
	Amount     uint64
	FeeReserve uint64
}

// InvoiceSubscriptionClient streams status updates for a single invoice
// until it is paid, expires, or the context is cancelled.
type InvoiceSubscriptionClient interface {
	Recv() (Invoice, error)
}

// Client is the capability set the mint engine drives every Lightning
// backend through. Implementations need not be internally idempotent:
// the engine serializes pay_invoice per melt quote via row-level locking.
type Client interface {
	// ConnectionStatus reports whether the backend is reachable.
	ConnectionStatus() error

	// CreateInvoice issues an inbound invoice for amount sats.
	CreateInvoice(amount uint64) (Invoice, error)
	// InvoiceStatus looks up an invoice's current paid state by payment hash.
	InvoiceStatus(hash string) (Invoice, error)
	// SubscribeInvoice streams status updates for one invoice by payment hash.
	SubscribeInvoice(ctx context.Context, paymentHash string) (InvoiceSubscriptionClient, error)

	// SendPayment pays a bolt11 invoice, capping the route fee at maxFee sats.
	SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error)
	// PayPartialAmount pays a bolt11 invoice for less than its full amount via
	// multi-path payment, capping the route fee at maxFee sats.
	PayPartialAmount(ctx context.Context, request string, amountMsat, maxFee uint64) (PaymentStatus, error)
	// OutgoingPaymentStatus looks up a previously dispatched payment's status.
	// An unknown status must be returned as Pending, never Failed.
	OutgoingPaymentStatus(ctx context.Context, paymentHash string) (PaymentStatus, error)

	// FeeReserve returns the upfront fee reserve the backend requires to
	// attempt paying an invoice for amount sats, in sats.
	FeeReserve(amount uint64) uint64
}
