package store

import (
	"context"

	"github.com/ammonit/intake/internal/model"
)

// OrderFilter specifies criteria for listing orders.
type OrderFilter struct {
	State     model.OrderState `json:"state,omitempty"`
	ProfileID string           `json:"profile_id,omitempty"`
	AccountID string           `json:"account_id,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
}

// ErrNotFound is returned by lookups for missing rows. Use eris.Is to test.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

// Store defines the persistence interface for the intake service.
type Store interface {
	// Client profiles
	CreateProfile(ctx context.Context, profile model.ClientProfile) (*model.ClientProfile, error)
	GetProfile(ctx context.Context, profileID string) (*model.ClientProfile, error)
	ListProfilesByOwner(ctx context.Context, ownerID string) ([]model.ClientProfile, error)
	UpdateProfile(ctx context.Context, profile model.ClientProfile) error
	LockProfile(ctx context.Context, profileID string) error

	// Orders
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error)
	UpdateOrderState(ctx context.Context, order *model.Order) error

	// Email accounts
	CreateAccount(ctx context.Context, account model.EmailAccount) (*model.EmailAccount, error)
	GetAccount(ctx context.Context, accountID string) (*model.EmailAccount, error)
	ListActiveAccounts(ctx context.Context) ([]model.EmailAccount, error)

	// Processed-message ledger. InsertProcessedMessage is insert-if-absent:
	// it reports whether the row was inserted, so concurrent cycles agree on
	// exactly one winner per (account, message).
	InsertProcessedMessage(ctx context.Context, msg model.ProcessedMessage) (bool, error)
	SeenMessage(ctx context.Context, accountID, messageID string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
