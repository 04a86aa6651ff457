package model

import "time"

// MessageOutcome records how processing one inbound message went.
type MessageOutcome string

const (
	MessageOutcomeOK    MessageOutcome = "ok"
	MessageOutcomeError MessageOutcome = "error"
)

// ProcessedMessage is one row of the dedup ledger: at most one row exists
// per (account, provider message id), and rows are never mutated. This is
// the sole mechanism preventing duplicate order creation from one message.
type ProcessedMessage struct {
	AccountID   string         `json:"account_id"`
	MessageID   string         `json:"message_id"`
	Outcome     MessageOutcome `json:"outcome"`
	ProcessedAt time.Time      `json:"processed_at"`
}
