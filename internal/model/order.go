package model

import (
	"time"
)

// OrderState represents the lifecycle state of an order.
type OrderState string

const (
	OrderStatePending         OrderState = "pending"
	OrderStateApproved        OrderState = "approved"
	OrderStateIntegratedOK    OrderState = "integrated_ok"
	OrderStateIntegratedError OrderState = "integrated_error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderState) Terminal() bool {
	return s == OrderStateIntegratedOK || s == OrderStateIntegratedError
}

// IntegrationOutcome is the result of one ERP integration attempt.
type IntegrationOutcome = OrderState

// Order represents one ingested business document and its extracted content.
type Order struct {
	ID           string                   `json:"id"`
	ProfileID    string                   `json:"profile_id"`
	AccountID    string                   `json:"account_id,omitempty"`
	MessageID    string                   `json:"message_id,omitempty"`
	DocumentName string                   `json:"document_name"`
	Document     []byte                   `json:"document,omitempty"`
	Transcript   string                   `json:"transcript,omitempty"`
	Record       map[string]any           `json:"record,omitempty"`
	Normalized   string                   `json:"normalized,omitempty"`
	State        OrderState               `json:"state"`
	StateSetAt   map[OrderState]time.Time `json:"state_set_at"`
	ApprovedAt   *time.Time               `json:"approved_at,omitempty"`
	IntegratedAt *time.Time               `json:"integrated_at,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
}

// SetState moves the order to state s and stamps StateSetAt[s]. The map is
// append-only; callers must have checked transition legality first.
func (o *Order) SetState(s OrderState, at time.Time) {
	if o.StateSetAt == nil {
		o.StateSetAt = make(map[OrderState]time.Time, 3)
	}
	o.State = s
	o.StateSetAt[s] = at
}
