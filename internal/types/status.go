package types

// TransactionStatus is the lifecycle state the platform reports for an order
type TransactionStatus string

const (
	StatusInit                   TransactionStatus = "Init"
	StatusApproved               TransactionStatus = "Approved"
	StatusSucceeded              TransactionStatus = "Succeeded"
	StatusFailed                 TransactionStatus = "Failed"
	StatusRefunded               TransactionStatus = "Refunded"
	StatusPartialRefund          TransactionStatus = "PartialRefund"
	StatusChargedback            TransactionStatus = "Chargedback"
	StatusRefundedSuspectedFraud TransactionStatus = "RefundedSuspectedFraud"
	StatusRefundedFriendlyFraud  TransactionStatus = "RefundedFriendlyFraud"
)

var knownStatuses = map[TransactionStatus]struct{}{
	StatusInit:                   {},
	StatusApproved:               {},
	StatusSucceeded:              {},
	StatusFailed:                 {},
	StatusRefunded:               {},
	StatusPartialRefund:          {},
	StatusChargedback:            {},
	StatusRefundedSuspectedFraud: {},
	StatusRefundedFriendlyFraud:  {},
}

// Valid reports whether s is one of the statuses the platform documents
func (s TransactionStatus) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Settled reports whether funds were captured for the order. Only Approved
// and Succeeded transactions back an active agreement.
func (s TransactionStatus) Settled() bool {
	return s == StatusApproved || s == StatusSucceeded
}

// Result codes returned by every platform call
const (
	ResultOK      = "OK"
	ResultFailure = "Failure"
)
