package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ammonit/intake/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS client_profiles (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	classifier TEXT NOT NULL DEFAULT '',
	schema     TEXT NOT NULL,
	locked     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	profile_id    TEXT NOT NULL REFERENCES client_profiles(id),
	account_id    TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	document_name TEXT NOT NULL,
	document      BLOB,
	transcript    TEXT NOT NULL DEFAULT '',
	record        TEXT,
	normalized    TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT 'pending',
	state_set_at  TEXT NOT NULL DEFAULT '{}',
	approved_at   DATETIME,
	integrated_at DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS email_accounts (
	id            TEXT PRIMARY KEY,
	address       TEXT NOT NULL UNIQUE,
	orders_active INTEGER NOT NULL DEFAULT 0,
	offers_active INTEGER NOT NULL DEFAULT 0,
	orders_filter TEXT NOT NULL DEFAULT '',
	offers_filter TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS processed_messages (
	account_id   TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	processed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (account_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_client_profiles_owner ON client_profiles(owner_id);
CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);
CREATE INDEX IF NOT EXISTS idx_orders_profile ON orders(profile_id);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Client profiles

func (s *SQLiteStore) CreateProfile(ctx context.Context, profile model.ClientProfile) (*model.ClientProfile, error) {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	schemaJSON, err := json.Marshal(profile.Schema)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal schema")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO client_profiles (id, owner_id, name, classifier, schema, locked, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.OwnerID, profile.Name, profile.Classifier,
		string(schemaJSON), profile.Locked, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert profile")
	}
	return &profile, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, profileID string) (*model.ClientProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, classifier, schema, locked, created_at, updated_at
		 FROM client_profiles WHERE id = ?`,
		profileID,
	)
	return scanProfile(row)
}

func (s *SQLiteStore) ListProfilesByOwner(ctx context.Context, ownerID string) ([]model.ClientProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, classifier, schema, locked, created_at, updated_at
		 FROM client_profiles WHERE owner_id = ? ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles")
	}
	defer rows.Close()

	var profiles []model.ClientProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, eris.Wrap(rows.Err(), "sqlite: list profiles iterate")
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, profile model.ClientProfile) error {
	schemaJSON, err := json.Marshal(profile.Schema)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal schema")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE client_profiles SET name = ?, classifier = ?, schema = ?, updated_at = ? WHERE id = ?`,
		profile.Name, profile.Classifier, string(schemaJSON), time.Now().UTC(), profile.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update profile %s", profile.ID)
	}
	return checkRowsAffected(res, "profile", profile.ID)
}

func (s *SQLiteStore) LockProfile(ctx context.Context, profileID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE client_profiles SET locked = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), profileID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: lock profile %s", profileID)
	}
	return checkRowsAffected(res, "profile", profileID)
}

// Orders

func (s *SQLiteStore) CreateOrder(ctx context.Context, order *model.Order) error {
	recordJSON, stateSetJSON, err := marshalOrderJSON(order)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders
		 (id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.ProfileID, order.AccountID, order.MessageID,
		order.DocumentName, order.Document, order.Transcript,
		recordJSON, order.Normalized, string(order.State), stateSetJSON,
		nullableTime(order.ApprovedAt), nullableTime(order.IntegratedAt), order.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert order")
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at
		 FROM orders WHERE id = ?`,
		orderID,
	)
	return scanOrder(row)
}

func (s *SQLiteStore) ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	query := `SELECT id, profile_id, account_id, message_id, document_name, document, transcript, record, normalized, state, state_set_at, approved_at, integrated_at, created_at
	          FROM orders WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.ProfileID != "" {
		query += ` AND profile_id = ?`
		args = append(args, filter.ProfileID)
	}
	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list orders")
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, eris.Wrap(rows.Err(), "sqlite: list orders iterate")
}

func (s *SQLiteStore) UpdateOrderState(ctx context.Context, order *model.Order) error {
	stateSetJSON, err := json.Marshal(order.StateSetAt)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal state timestamps")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET state = ?, state_set_at = ?, approved_at = ?, integrated_at = ? WHERE id = ?`,
		string(order.State), string(stateSetJSON),
		nullableTime(order.ApprovedAt), nullableTime(order.IntegratedAt), order.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update order state %s", order.ID)
	}
	return checkRowsAffected(res, "order", order.ID)
}

// Email accounts

func (s *SQLiteStore) CreateAccount(ctx context.Context, account model.EmailAccount) (*model.EmailAccount, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_accounts (id, address, orders_active, offers_active, orders_filter, offers_filter, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Address, account.OrdersActive, account.OffersActive,
		account.OrdersFilter, account.OffersFilter, account.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert account")
	}
	return &account, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*model.EmailAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, address, orders_active, offers_active, orders_filter, offers_filter, created_at
		 FROM email_accounts WHERE id = ?`,
		accountID,
	)
	return scanAccount(row)
}

func (s *SQLiteStore) ListActiveAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, address, orders_active, offers_active, orders_filter, offers_filter, created_at
		 FROM email_accounts
		 WHERE orders_active = 1 OR offers_active = 1
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active accounts")
	}
	defer rows.Close()

	var accounts []model.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, eris.Wrap(rows.Err(), "sqlite: list active accounts iterate")
}

// Processed-message ledger

func (s *SQLiteStore) InsertProcessedMessage(ctx context.Context, msg model.ProcessedMessage) (bool, error) {
	if msg.ProcessedAt.IsZero() {
		msg.ProcessedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (account_id, message_id, outcome, processed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, message_id) DO NOTHING`,
		msg.AccountID, msg.MessageID, string(msg.Outcome), msg.ProcessedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert processed message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) SeenMessage(ctx context.Context, accountID, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE account_id = ? AND message_id = ?`,
		accountID, messageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: seen message")
	}
	return true, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func marshalOrderJSON(order *model.Order) (recordJSON, stateSetJSON string, err error) {
	record, err := json.Marshal(order.Record)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal order record")
	}
	stateSet, err := json.Marshal(order.StateSetAt)
	if err != nil {
		return "", "", eris.Wrap(err, "marshal state timestamps")
	}
	return string(record), string(stateSet), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProfile(row scannable) (*model.ClientProfile, error) {
	var p model.ClientProfile
	var schemaJSON string

	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Classifier, &schemaJSON, &p.Locked, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "profile")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan profile")
	}
	if err := json.Unmarshal([]byte(schemaJSON), &p.Schema); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal schema")
	}
	return &p, nil
}

func scanOrder(row scannable) (*model.Order, error) {
	var o model.Order
	var recordJSON, stateSetJSON string
	var state string
	var approvedAt, integratedAt sql.NullTime

	err := row.Scan(&o.ID, &o.ProfileID, &o.AccountID, &o.MessageID,
		&o.DocumentName, &o.Document, &o.Transcript, &recordJSON, &o.Normalized,
		&state, &stateSetJSON, &approvedAt, &integratedAt, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "order")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan order")
	}

	o.State = model.OrderState(state)
	if recordJSON != "" && recordJSON != "null" {
		if err := json.Unmarshal([]byte(recordJSON), &o.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal order record")
		}
	}
	if err := json.Unmarshal([]byte(stateSetJSON), &o.StateSetAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal state timestamps")
	}
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		o.ApprovedAt = &t
	}
	if integratedAt.Valid {
		t := integratedAt.Time.UTC()
		o.IntegratedAt = &t
	}
	return &o, nil
}

func scanAccount(row scannable) (*model.EmailAccount, error) {
	var a model.EmailAccount

	err := row.Scan(&a.ID, &a.Address, &a.OrdersActive, &a.OffersActive,
		&a.OrdersFilter, &a.OffersFilter, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "account")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan account")
	}
	return &a, nil
}
