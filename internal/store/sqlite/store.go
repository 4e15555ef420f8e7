// Package sqlite is a single-file ledger store for offline operation and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"kmfx/internal/ledger"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const (
	tsLayout   = time.RFC3339Nano
	dateLayout = "2006-01-02"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database. Writers are serialized through one connection
// with immediate transactions.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path
	params := "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:"
	} else {
		params += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn+params)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock replaces the time source of the inbox and audit sinks.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, name, kind, trading_accounts, start_balance_micros, equity_micros,
	withdrawable_micros, referred_by, COALESCE(referral_code, ''), phone, expiry, notes, created_at`

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		kind      string
		sponsor   sql.NullInt64
		expiry    sql.NullString
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Name, &kind, &a.TradingAccounts, &a.StartBalanceMicros, &a.EquityMicros,
		&a.WithdrawableMicros, &sponsor, &a.ReferralCode, &a.Phone, &expiry, &a.Notes, &createdAt)
	if err != nil {
		return a, err
	}
	a.Kind = ledger.AccountKind(kind)
	if sponsor.Valid {
		id := sponsor.Int64
		a.ReferredBy = &id
	}
	if expiry.Valid && expiry.String != "" {
		t, err := time.Parse(dateLayout, expiry.String)
		if err != nil {
			return a, fmt.Errorf("parse expiry: %w", err)
		}
		a.Expiry = &t
	}
	a.CreatedAt, err = time.Parse(tsLayout, createdAt)
	return a, err
}

const profitColumns = `id, account_id, amount_micros, posted_on, client_share_micros, owner_share_micros,
	referral_bonus_micros, kind, source_id, tier, created_at`

func scanProfit(row rowScanner) (ledger.ProfitRecord, error) {
	var (
		p         ledger.ProfitRecord
		postedOn  string
		kind      string
		source    sql.NullInt64
		createdAt string
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.AmountMicros, &postedOn, &p.ClientShareMicros, &p.OwnerShareMicros,
		&p.ReferralBonusMicros, &kind, &source, &p.Tier, &createdAt)
	if err != nil {
		return p, err
	}
	p.Kind = ledger.RecordKind(kind)
	if source.Valid {
		id := source.Int64
		p.SourceID = &id
	}
	if p.Date, err = time.Parse(dateLayout, postedOn); err != nil {
		return p, err
	}
	p.CreatedAt, err = time.Parse(tsLayout, createdAt)
	return p, err
}

const withdrawalColumns = `id, account_id, amount_micros, method, details, status, requested_at,
	processed_at, processed_by, notes`

func scanWithdrawal(row rowScanner) (ledger.Withdrawal, error) {
	var (
		w           ledger.Withdrawal
		status      string
		requestedAt string
		processedAt sql.NullString
	)
	err := row.Scan(&w.ID, &w.AccountID, &w.AmountMicros, &w.Method, &w.Details, &status, &requestedAt,
		&processedAt, &w.ProcessedBy, &w.Notes)
	if err != nil {
		return w, err
	}
	w.Status = ledger.WithdrawalStatus(status)
	if w.RequestedAt, err = time.Parse(tsLayout, requestedAt); err != nil {
		return w, err
	}
	if processedAt.Valid {
		t, err := time.Parse(tsLayout, processedAt.String)
		if err != nil {
			return w, err
		}
		w.ProcessedAt = &t
	}
	return w, nil
}

func (s *Store) Account(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ledger.ErrUnknownAccount
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1 = 1`
	var args []any
	if q := strings.TrimSpace(filter.Search); q != "" {
		query += ` AND (name LIKE ? OR referral_code LIKE ? OR trading_accounts LIKE ?)`
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY id`
	return s.queryAccounts(ctx, query, args...)
}

func (s *Store) Sponsored(ctx context.Context, sponsorID int64) ([]ledger.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE referred_by = ? ORDER BY id`, sponsorID)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ProfitHistory(ctx context.Context, filter ledger.ProfitFilter) ([]ledger.ProfitRecord, error) {
	query := `SELECT ` + profitColumns + ` FROM profits WHERE 1 = 1`
	var args []any
	if filter.AccountID != 0 {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.From != nil {
		query += ` AND posted_on >= ?`
		args = append(args, filter.From.Format(dateLayout))
	}
	if filter.To != nil {
		query += ` AND posted_on <= ?`
		args = append(args, filter.To.Format(dateLayout))
	}
	query += ` ORDER BY posted_on DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.ProfitRecord
	for rows.Next() {
		p, err := scanProfit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Withdrawals(ctx context.Context, filter ledger.WithdrawalFilter) ([]ledger.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE 1 = 1`
	var args []any
	if filter.AccountID != 0 {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY requested_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type sqlTx struct {
	tx *sql.Tx
}

// LockAccount reads inside the immediate transaction, which already holds
// the database write lock.
func (t *sqlTx) LockAccount(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("%w: %d", ledger.ErrUnknownAccount, id)
	}
	return a, err
}

func (t *sqlTx) ApplyBalances(ctx context.Context, id, equityDelta, withdrawableDelta int64) (ledger.Account, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET equity_micros = equity_micros + ?, withdrawable_micros = withdrawable_micros + ?
		WHERE id = ?
	`, equityDelta, withdrawableDelta, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.Account{}, fmt.Errorf("%w: %d", ledger.ErrUnknownAccount, id)
	}
	return t.LockAccount(ctx, id)
}

func (t *sqlTx) InsertProfit(ctx context.Context, rec ledger.ProfitRecord) (int64, error) {
	var source any
	if rec.SourceID != nil {
		source = *rec.SourceID
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO profits (account_id, amount_micros, posted_on, client_share_micros, owner_share_micros,
			referral_bonus_micros, kind, source_id, tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.AccountID, rec.AmountMicros, rec.Date.Format(dateLayout), rec.ClientShareMicros, rec.OwnerShareMicros,
		rec.ReferralBonusMicros, string(rec.Kind), source, rec.Tier, rec.CreatedAt.UTC().Format(tsLayout))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqlTx) ClaimIdempotencyKey(ctx context.Context, key, action string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, action, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING
	`, key, action, at.UTC().Format(tsLayout))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrDuplicateIdempotency
	}
	return nil
}

func (t *sqlTx) InsertAccount(ctx context.Context, a ledger.Account) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (name, kind, trading_accounts, start_balance_micros, equity_micros,
			withdrawable_micros, referred_by, referral_code, phone, expiry, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`, a.Name, string(a.Kind), a.TradingAccounts, a.StartBalanceMicros, a.EquityMicros, a.WithdrawableMicros,
		nullableID(a.ReferredBy), a.ReferralCode, a.Phone, nullableDate(a.Expiry), a.Notes, a.CreatedAt.Format(tsLayout))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqlTx) UpdateAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, kind = ?, trading_accounts = ?, referred_by = ?, referral_code = NULLIF(?, ''),
			phone = ?, expiry = ?, notes = ?
		WHERE id = ?
	`, a.Name, string(a.Kind), a.TradingAccounts, nullableID(a.ReferredBy), a.ReferralCode,
		a.Phone, nullableDate(a.Expiry), a.Notes, a.ID)
	return err
}

func (t *sqlTx) ReferralCodeTaken(ctx context.Context, code string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts WHERE referral_code = ?`, code).Scan(&n)
	return n > 0, err
}

func (t *sqlTx) InsertWithdrawal(ctx context.Context, w ledger.Withdrawal) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO withdrawals (account_id, amount_micros, method, details, status, requested_at, processed_by, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.AccountID, w.AmountMicros, w.Method, w.Details, string(w.Status), w.RequestedAt.Format(tsLayout), w.ProcessedBy, w.Notes)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqlTx) LockWithdrawal(ctx context.Context, id int64) (ledger.Withdrawal, error) {
	w, err := scanWithdrawal(t.tx.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("%w: %d", ledger.ErrWithdrawalNotFound, id)
	}
	return w, err
}

func (t *sqlTx) UpdateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	var processed any
	if w.ProcessedAt != nil {
		processed = w.ProcessedAt.UTC().Format(tsLayout)
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = ?, processed_at = ?, processed_by = ?, notes = ?
		WHERE id = ?
	`, string(w.Status), processed, w.ProcessedBy, w.Notes, w.ID)
	return err
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
