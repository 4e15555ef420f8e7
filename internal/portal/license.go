package portal

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"kmfx/internal/ledger"

	"github.com/jackc/pgx/v5"
)

const licenseVersion = "Latest"

type License struct {
	ID          int64      `json:"id"`
	AccountID   int64      `json:"account_id"`
	Key         string     `json:"key"`
	EncData     string     `json:"enc_data"`
	Version     string     `json:"version"`
	GeneratedAt time.Time  `json:"generated_at"`
	Expiry      time.Time  `json:"expiry"`
	AllowLive   bool       `json:"allow_live"`
	RemindedAt  *time.Time `json:"reminded_at,omitempty"`
}

// ExpiringLicense is the newest license of an account that runs out soon.
type ExpiringLicense struct {
	License
	AccountName string `json:"account_name"`
	Phone       string `json:"phone"`
}

// LicenseKey is KMFX_<NAME>_<MONDDYYYY>, the name upper-cased with spaces
// turned into underscores and the date being the day of issue.
func LicenseKey(name string, issued time.Time) string {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	return "KMFX_" + n + "_" + strings.ToUpper(issued.Format("Jan022006"))
}

// LicensePayload is the plaintext the EA decodes: name|accounts|expiry|live.
func LicensePayload(name, tradingAccounts string, expiry time.Time, allowLive bool) string {
	live := "0"
	if allowLive {
		live = "1"
	}
	return strings.Join([]string{name, tradingAccounts, expiry.Format("2006-01-02"), live}, "|")
}

// EncodeLicense XORs each code point of payload with the repeating key and
// writes the result as upper-case hex, at least two digits per code point.
// Code points whose XOR exceeds 0xFF take more digits and cannot be read
// back by DecodeLicense.
func EncodeLicense(payload, key string) string {
	k := []rune(key)
	if len(k) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range []rune(payload) {
		fmt.Fprintf(&b, "%02X", r^k[i%len(k)])
	}
	return b.String()
}

func DecodeLicense(encData, key string) (string, error) {
	k := []rune(key)
	if len(k) == 0 {
		return "", fmt.Errorf("%w: empty key", ErrInvalidInput)
	}
	raw, err := hex.DecodeString(encData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := make([]rune, len(raw))
	for i, c := range raw {
		out[i] = rune(c) ^ k[i%len(k)]
	}
	return string(out), nil
}

// LicenseFile renders the text file handed to the client.
func LicenseFile(l License) string {
	live := "No"
	if l.AllowLive {
		live = "Yes"
	}
	return fmt.Sprintf("UNIQUE_KEY = %s\nENC_DATA = %s\nExpiry: %s\nLive Trading: %s\n",
		l.Key, l.EncData, l.Expiry.Format("2006-01-02"), live)
}

// LicenseFileName is KMFX_License_<Name>_<MONDDYYYY>.txt.
func LicenseFileName(name string, issued time.Time) string {
	return fmt.Sprintf("KMFX_License_%s_%s.txt", strings.ReplaceAll(strings.TrimSpace(name), " ", "_"),
		strings.ToUpper(issued.Format("Jan022006")))
}

// IssueLicense generates a license for the account and moves its expiry to
// the license expiry.
func (s *Service) IssueLicense(ctx context.Context, accountID int64, expiry time.Time, allowLive bool) (License, error) {
	expiry = time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	now := s.now().UTC()
	if expiry.Before(now.Truncate(24 * time.Hour)) {
		return License{}, fmt.Errorf("%w: expiry is in the past", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return License{}, err
	}
	defer tx.Rollback(ctx)

	var name, accounts string
	err = tx.QueryRow(ctx, `SELECT name, trading_accounts FROM kmfx.accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&name, &accounts)
	if errors.Is(err, pgx.ErrNoRows) {
		return License{}, ledger.ErrUnknownAccount
	}
	if err != nil {
		return License{}, err
	}

	lic := License{
		AccountID:   accountID,
		Key:         LicenseKey(name, now),
		Version:     licenseVersion,
		GeneratedAt: now,
		Expiry:      expiry,
		AllowLive:   allowLive,
	}
	lic.EncData = EncodeLicense(LicensePayload(name, accounts, expiry, allowLive), lic.Key)

	err = tx.QueryRow(ctx, `
		INSERT INTO kmfx.licenses (account_id, license_key, enc_data, version, generated_at, expiry, allow_live)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, lic.AccountID, lic.Key, lic.EncData, lic.Version, lic.GeneratedAt, lic.Expiry, lic.AllowLive).Scan(&lic.ID)
	if err != nil {
		return License{}, fmt.Errorf("insert license: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE kmfx.accounts SET expiry = $2 WHERE id = $1`, accountID, expiry); err != nil {
		return License{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return License{}, err
	}

	s.record(ctx, "License Generated", fmt.Sprintf("For %s | Expiry: %s", name, expiry.Format("2006-01-02")))
	s.send(ctx, accountID, "New License Generated", "Your EA license has been updated. Check My Licenses.")
	return lic, nil
}

const licenseColumns = `id, account_id, license_key, enc_data, version, generated_at, expiry, allow_live, reminded_at`

func scanLicense(row pgx.Row, extra ...any) (License, error) {
	var l License
	dest := append([]any{&l.ID, &l.AccountID, &l.Key, &l.EncData, &l.Version, &l.GeneratedAt, &l.Expiry, &l.AllowLive, &l.RemindedAt}, extra...)
	err := row.Scan(dest...)
	return l, err
}

func (s *Service) Licenses(ctx context.Context, accountID int64) ([]License, error) {
	rows, err := s.db.Query(ctx, `SELECT `+licenseColumns+` FROM kmfx.licenses WHERE account_id = $1 ORDER BY generated_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (License, error) {
		return scanLicense(row)
	})
}

func (s *Service) License(ctx context.Context, id int64) (License, error) {
	l, err := scanLicense(s.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM kmfx.licenses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, ErrNotFound
	}
	return l, err
}

// ExpiringLicenses lists the newest license per account expiring within the
// window that has not been reminded yet.
func (s *Service) ExpiringLicenses(ctx context.Context, within time.Duration) ([]ExpiringLicense, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	rows, err := s.db.Query(ctx, `
		SELECT l.id, l.account_id, l.license_key, l.enc_data, l.version, l.generated_at, l.expiry, l.allow_live, l.reminded_at,
			a.name, a.phone
		FROM (
			SELECT DISTINCT ON (account_id) *
			FROM kmfx.licenses
			ORDER BY account_id, generated_at DESC, id DESC
		) l
		JOIN kmfx.accounts a ON a.id = l.account_id
		WHERE l.expiry >= $1 AND l.expiry <= $2 AND l.reminded_at IS NULL
		ORDER BY l.expiry, l.id
	`, today, today.Add(within))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExpiringLicense, error) {
		var e ExpiringLicense
		l, err := scanLicense(row, &e.AccountName, &e.Phone)
		e.License = l
		return e, err
	})
}

// RemindExpiring notifies each account whose license is about to lapse and
// marks the license as reminded.
func (s *Service) RemindExpiring(ctx context.Context, within time.Duration) (int, error) {
	expiring, err := s.ExpiringLicenses(ctx, within)
	if err != nil {
		return 0, err
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	n := 0
	for _, e := range expiring {
		s.send(ctx, e.AccountID, "License Expiring", ExpiryReminder(e.Expiry, today))
		if _, err := s.db.Exec(ctx, `UPDATE kmfx.licenses SET reminded_at = now() WHERE id = $1`, e.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func ExpiryReminder(expiry, today time.Time) string {
	days := int(expiry.Sub(today).Hours() / 24)
	switch {
	case days <= 0:
		return "Your EA license expires today. Contact support to renew."
	case days == 1:
		return "Your EA license expires tomorrow. Contact support to renew."
	default:
		return fmt.Sprintf("Your EA license expires in %d days (%s). Contact support to renew.", days, expiry.Format("2006-01-02"))
	}
}
