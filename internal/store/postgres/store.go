// Package postgres implements the ledger store on PostgreSQL with
// serializable transactions and row locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kmfx/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func mapErr(err error) error {
	if err != nil && isSerializationError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	}
	return err
}

const accountColumns = `id, name, kind, trading_accounts, start_balance_micros, equity_micros,
	withdrawable_micros, referred_by, COALESCE(referral_code, ''), phone, expiry, notes, created_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a    ledger.Account
		kind string
	)
	err := row.Scan(&a.ID, &a.Name, &kind, &a.TradingAccounts, &a.StartBalanceMicros, &a.EquityMicros,
		&a.WithdrawableMicros, &a.ReferredBy, &a.ReferralCode, &a.Phone, &a.Expiry, &a.Notes, &a.CreatedAt)
	a.Kind = ledger.AccountKind(kind)
	return a, err
}

const profitColumns = `id, account_id, amount_micros, posted_on, client_share_micros, owner_share_micros,
	referral_bonus_micros, kind, source_id, tier, created_at`

func scanProfit(row pgx.Row) (ledger.ProfitRecord, error) {
	var (
		p    ledger.ProfitRecord
		kind string
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.AmountMicros, &p.Date, &p.ClientShareMicros, &p.OwnerShareMicros,
		&p.ReferralBonusMicros, &kind, &p.SourceID, &p.Tier, &p.CreatedAt)
	p.Kind = ledger.RecordKind(kind)
	return p, err
}

const withdrawalColumns = `id, account_id, amount_micros, method, details, status, requested_at,
	processed_at, processed_by, notes`

func scanWithdrawal(row pgx.Row) (ledger.Withdrawal, error) {
	var (
		w      ledger.Withdrawal
		status string
	)
	err := row.Scan(&w.ID, &w.AccountID, &w.AmountMicros, &w.Method, &w.Details, &status, &w.RequestedAt,
		&w.ProcessedAt, &w.ProcessedBy, &w.Notes)
	w.Status = ledger.WithdrawalStatus(status)
	return w, err
}

func (s *Store) Account(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM kmfx.accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ledger.ErrUnknownAccount
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM kmfx.accounts WHERE true`
	var args []any
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+q+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR referral_code ILIKE $%d OR trading_accounts ILIKE $%d)`, len(args), len(args), len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(` AND kind = $%d`, len(args))
	}
	query += ` ORDER BY id`
	return s.queryAccounts(ctx, query, args...)
}

func (s *Store) Sponsored(ctx context.Context, sponsorID int64) ([]ledger.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM kmfx.accounts WHERE referred_by = $1 ORDER BY id`, sponsorID)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]ledger.Account, error) {
	rows, err := s.db.Query(ctx, query, args...)
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
	query := `SELECT ` + profitColumns + ` FROM kmfx.profits WHERE true`
	var args []any
	if filter.AccountID != 0 {
		args = append(args, filter.AccountID)
		query += fmt.Sprintf(` AND account_id = $%d`, len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND posted_on >= $%d`, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND posted_on <= $%d`, len(args))
	}
	query += ` ORDER BY posted_on DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
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
	query := `SELECT ` + withdrawalColumns + ` FROM kmfx.withdrawals WHERE true`
	var args []any
	if filter.AccountID != 0 {
		args = append(args, filter.AccountID)
		query += fmt.Sprintf(` AND account_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY requested_at DESC, id DESC`
	rows, err := s.db.Query(ctx, query, args...)
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

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, id int64) (ledger.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM kmfx.accounts WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, fmt.Errorf("%w: %d", ledger.ErrUnknownAccount, id)
	}
	return a, err
}

func (t *pgTx) ApplyBalances(ctx context.Context, id, equityDelta, withdrawableDelta int64) (ledger.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `
		UPDATE kmfx.accounts
		SET equity_micros = equity_micros + $2, withdrawable_micros = withdrawable_micros + $3
		WHERE id = $1
		RETURNING `+accountColumns, id, equityDelta, withdrawableDelta))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, fmt.Errorf("%w: %d", ledger.ErrUnknownAccount, id)
	}
	return a, err
}

func (t *pgTx) InsertProfit(ctx context.Context, rec ledger.ProfitRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO kmfx.profits (account_id, amount_micros, posted_on, client_share_micros, owner_share_micros,
			referral_bonus_micros, kind, source_id, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, rec.AccountID, rec.AmountMicros, rec.Date, rec.ClientShareMicros, rec.OwnerShareMicros,
		rec.ReferralBonusMicros, string(rec.Kind), rec.SourceID, rec.Tier, rec.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, key, action string, at time.Time) error {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO kmfx.idempotency_keys (key, action, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, action, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrDuplicateIdempotency
	}
	return nil
}

func (t *pgTx) InsertAccount(ctx context.Context, a ledger.Account) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO kmfx.accounts (name, kind, trading_accounts, start_balance_micros, equity_micros,
			withdrawable_micros, referred_by, referral_code, phone, expiry, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)
		RETURNING id
	`, a.Name, string(a.Kind), a.TradingAccounts, a.StartBalanceMicros, a.EquityMicros, a.WithdrawableMicros,
		a.ReferredBy, a.ReferralCode, a.Phone, a.Expiry, a.Notes, a.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE kmfx.accounts
		SET name = $2, kind = $3, trading_accounts = $4, referred_by = $5, referral_code = NULLIF($6, ''),
			phone = $7, expiry = $8, notes = $9
		WHERE id = $1
	`, a.ID, a.Name, string(a.Kind), a.TradingAccounts, a.ReferredBy, a.ReferralCode, a.Phone, a.Expiry, a.Notes)
	return err
}

func (t *pgTx) ReferralCodeTaken(ctx context.Context, code string) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kmfx.accounts WHERE referral_code = $1)`, code).Scan(&taken)
	return taken, err
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w ledger.Withdrawal) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO kmfx.withdrawals (account_id, amount_micros, method, details, status, requested_at, processed_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, w.AccountID, w.AmountMicros, w.Method, w.Details, string(w.Status), w.RequestedAt, w.ProcessedBy, w.Notes).Scan(&id)
	return id, err
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id int64) (ledger.Withdrawal, error) {
	w, err := scanWithdrawal(t.tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM kmfx.withdrawals WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return w, fmt.Errorf("%w: %d", ledger.ErrWithdrawalNotFound, id)
	}
	return w, err
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE kmfx.withdrawals
		SET status = $2, processed_at = $3, processed_by = $4, notes = $5
		WHERE id = $1
	`, w.ID, string(w.Status), w.ProcessedAt, w.ProcessedBy, w.Notes)
	return err
}
