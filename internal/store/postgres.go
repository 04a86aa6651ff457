package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ammonit/intake/internal/db"
	"github.com/ammonit/intake/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations (the ingest ledger and
// the bridge's state-filtered order listing).
var preparedStatements = map[string]string{
	"insert_processed_message": `INSERT INTO processed_messages (account_id, message_id, outcome, processed_at) VALUES ($1, $2, $3, $4) ON CONFLICT (account_id, message_id) DO NOTHING`,
	"seen_message":             `SELECT 1 FROM processed_messages WHERE account_id = $1 AND message_id = $2`,
	"get_order":                `SELECT id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at FROM orders WHERE id = $1`,
	"update_order_state":       `UPDATE orders SET state = $1, state_set_at = $2, approved_at = $3, integrated_at = $4 WHERE id = $5`,
	"list_profiles_by_owner":   `SELECT id, owner_id, name, classifier, schema, locked, created_at, updated_at FROM client_profiles WHERE owner_id = $1 ORDER BY created_at ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS client_profiles (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	classifier TEXT NOT NULL DEFAULT '',
	schema     JSONB NOT NULL,
	locked     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	profile_id    TEXT NOT NULL REFERENCES client_profiles(id),
	account_id    TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	document_name TEXT NOT NULL,
	document      BYTEA,
	transcript    TEXT NOT NULL DEFAULT '',
	record        JSONB,
	normalized    TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'pending',
	state_set_at  JSONB NOT NULL DEFAULT '{}',
	approved_at   TIMESTAMPTZ,
	integrated_at TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS email_accounts (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	address       TEXT NOT NULL UNIQUE,
	orders_active BOOLEAN NOT NULL DEFAULT false,
	offers_active BOOLEAN NOT NULL DEFAULT false,
	orders_filter TEXT NOT NULL DEFAULT '',
	offers_filter TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processed_messages (
	account_id   TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_client_profiles_owner ON client_profiles(owner_id);
CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);
CREATE INDEX IF NOT EXISTS idx_orders_profile ON orders(profile_id);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Client profiles

func (s *PostgresStore) CreateProfile(ctx context.Context, profile model.ClientProfile) (*model.ClientProfile, error) {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	schemaJSON, err := json.Marshal(profile.Schema)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal schema")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO client_profiles (id, owner_id, name, classifier, schema, locked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID, profile.OwnerID, profile.Name, profile.Classifier,
		schemaJSON, profile.Locked, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert profile")
	}
	return &profile, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (*model.ClientProfile, error) {
	var p model.ClientProfile
	var schemaJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, classifier, schema, locked, created_at, updated_at
		 FROM client_profiles WHERE id = $1`,
		profileID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Classifier, &schemaJSON, &p.Locked, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "profile %s", profileID)
		}
		return nil, eris.Wrapf(err, "postgres: get profile %s", profileID)
	}
	if err := json.Unmarshal(schemaJSON, &p.Schema); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal schema")
	}
	return &p, nil
}

func (s *PostgresStore) ListProfilesByOwner(ctx context.Context, ownerID string) ([]model.ClientProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, classifier, schema, locked, created_at, updated_at
		 FROM client_profiles WHERE owner_id = $1 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profiles")
	}
	defer rows.Close()

	var profiles []model.ClientProfile
	for rows.Next() {
		var p model.ClientProfile
		var schemaJSON []byte
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Classifier, &schemaJSON, &p.Locked, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		if err := json.Unmarshal(schemaJSON, &p.Schema); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal schema")
		}
		profiles = append(profiles, p)
	}
	return profiles, eris.Wrap(rows.Err(), "postgres: list profiles iterate")
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, profile model.ClientProfile) error {
	schemaJSON, err := json.Marshal(profile.Schema)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schema")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE client_profiles SET name = $1, classifier = $2, schema = $3, updated_at = $4 WHERE id = $5`,
		profile.Name, profile.Classifier, schemaJSON, time.Now().UTC(), profile.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update profile %s", profile.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "profile %s", profile.ID)
	}
	return nil
}

func (s *PostgresStore) LockProfile(ctx context.Context, profileID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE client_profiles SET locked = true, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), profileID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: lock profile %s", profileID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "profile %s", profileID)
	}
	return nil
}

// Orders

func (s *PostgresStore) CreateOrder(ctx context.Context, order *model.Order) error {
	recordJSON, err := json.Marshal(order.Record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal order record")
	}
	stateSetJSON, err := json.Marshal(order.StateSetAt)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal state timestamps")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders
		 (id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		order.ID, order.ProfileID, order.AccountID, order.MessageID,
		order.DocumentName, order.Document, order.Transcript,
		recordJSON, order.Normalized, string(order.State), stateSetJSON,
		order.ApprovedAt, order.IntegratedAt, order.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert order")
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at
		 FROM orders WHERE id = $1`,
		orderID,
	)
	o, err := scanPgOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "order %s", orderID)
		}
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	query := `SELECT id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at
	          FROM orders WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.ProfileID != "" {
		query += fmt.Sprintf(` AND profile_id = $%d`, argIdx)
		args = append(args, filter.ProfileID)
		argIdx++
	}
	if filter.AccountID != "" {
		query += fmt.Sprintf(` AND account_id = $%d`, argIdx)
		args = append(args, filter.AccountID)
		argIdx++
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list orders")
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanPgOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, eris.Wrap(rows.Err(), "postgres: list orders iterate")
}

func (s *PostgresStore) UpdateOrderState(ctx context.Context, order *model.Order) error {
	stateSetJSON, err := json.Marshal(order.StateSetAt)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal state timestamps")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET state = $1, state_set_at = $2, approved_at = $3, integrated_at = $4 WHERE id = $5`,
		string(order.State), stateSetJSON, order.ApprovedAt, order.IntegratedAt, order.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update order state %s", order.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "order %s", order.ID)
	}
	return nil
}

// Email accounts

func (s *PostgresStore) CreateAccount(ctx context.Context, account model.EmailAccount) (*model.EmailAccount, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_accounts (id, address, orders_active, offers_active, orders_filter, offers_filter, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, account.Address, account.OrdersActive, account.OffersActive,
		account.OrdersFilter, account.OffersFilter, account.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert account")
	}
	return &account, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.EmailAccount, error) {
	var a model.EmailAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, address, orders_active, offers_active, orders_filter, offers_filter, created_at
		 FROM email_accounts WHERE id = $1`,
		accountID,
	).Scan(&a.ID, &a.Address, &a.OrdersActive, &a.OffersActive, &a.OrdersFilter, &a.OffersFilter, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "account %s", accountID)
		}
		return nil, eris.Wrapf(err, "postgres: get account %s", accountID)
	}
	return &a, nil
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, address, orders_active, offers_active, orders_filter, offers_filter, created_at
		 FROM email_accounts
		 WHERE orders_active OR offers_active
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active accounts")
	}
	defer rows.Close()

	var accounts []model.EmailAccount
	for rows.Next() {
		var a model.EmailAccount
		if err := rows.Scan(&a.ID, &a.Address, &a.OrdersActive, &a.OffersActive, &a.OrdersFilter, &a.OffersFilter, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "postgres: list active accounts iterate")
}

// Processed-message ledger

func (s *PostgresStore) InsertProcessedMessage(ctx context.Context, msg model.ProcessedMessage) (bool, error) {
	if msg.ProcessedAt.IsZero() {
		msg.ProcessedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_messages (account_id, message_id, outcome, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id, message_id) DO NOTHING`,
		msg.AccountID, msg.MessageID, string(msg.Outcome), msg.ProcessedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert processed message")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SeenMessage(ctx context.Context, accountID, messageID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_messages WHERE account_id = $1 AND message_id = $2`,
		accountID, messageID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrap(err, "postgres: seen message")
	}
	return true, nil
}

// helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgOrder(row pgScannable) (*model.Order, error) {
	var o model.Order
	var recordJSON, stateSetJSON []byte
	var state string
	var approvedAt, integratedAt *time.Time

	err := row.Scan(&o.ID, &o.ProfileID, &o.AccountID, &o.MessageID,
		&o.DocumentName, &o.Document, &o.Transcript, &recordJSON, &o.Normalized,
		&state, &stateSetJSON, &approvedAt, &integratedAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan order")
	}

	o.State = model.OrderState(state)
	if len(recordJSON) > 0 {
		if err := json.Unmarshal(recordJSON, &o.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal order record")
		}
	}
	if err := json.Unmarshal(stateSetJSON, &o.StateSetAt); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal state timestamps")
	}
	o.ApprovedAt = approvedAt
	o.IntegratedAt = integratedAt
	return &o, nil
}
