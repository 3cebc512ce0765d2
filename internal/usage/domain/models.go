// Package domain describes committed usage of metered operations.
package domain

import "time"

// RecordRequest charges cost credits for one completed operation.
type RecordRequest struct {
	AccountID     string `json:"account_id"`
	OperationType string `json:"operation_type"`
	Cost          int64  `json:"cost"`
}

// Receipt confirms a committed charge.
type Receipt struct {
	TransactionID  string    `json:"transaction_id"`
	AccountID      string    `json:"account_id"`
	OperationType  string    `json:"operation_type"`
	Cost           int64     `json:"cost"`
	RemainingAfter int64     `json:"remaining_after"`
	OccurredAt     time.Time `json:"occurred_at"`
}
