package portal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"kmfx/internal/auth"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var usernameRE = regexp.MustCompile(`^[a-z0-9_.]{3,32}$`)

func normalizeUsername(u string) (string, error) {
	u = strings.ToLower(strings.TrimSpace(u))
	if !usernameRE.MatchString(u) {
		return "", fmt.Errorf("%w: username must be 3-32 characters of a-z, 0-9, _ or .", ErrInvalidInput)
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AuthenticateStaff accepts the configured owner or a row in admins.
func (s *Service) AuthenticateStaff(ctx context.Context, username, password string) (auth.Principal, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if s.ownerPw != "" && username == strings.ToLower(s.owner) {
		if err := auth.CheckPassword(s.ownerPw, password); err != nil {
			return auth.Principal{}, err
		}
		return auth.Principal{Role: auth.RoleOwner, Username: username}, nil
	}
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM kmfx.admins WHERE username = $1`, username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return auth.Principal{}, err
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{Role: auth.RoleAdmin, Username: username}, nil
}

func (s *Service) AuthenticateClient(ctx context.Context, username, password string) (auth.Principal, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var (
		accountID int64
		hash      string
	)
	err := s.db.QueryRow(ctx, `SELECT account_id, password_hash FROM kmfx.client_logins WHERE username = $1`, username).Scan(&accountID, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return auth.Principal{}, err
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{Role: auth.RoleClient, Username: username, AccountID: accountID}, nil
}

func (s *Service) CreateAdmin(ctx context.Context, username, password string) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	if username == strings.ToLower(s.owner) {
		return ErrUsernameUsed
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO kmfx.admins (username, password_hash) VALUES ($1, $2)`, username, hash)
	if isUniqueViolation(err) {
		return ErrUsernameUsed
	}
	if err != nil {
		return err
	}
	s.record(ctx, "Admin Created", username)
	return nil
}

// SetClientLogin creates or replaces the portal login of an account.
func (s *Service) SetClientLogin(ctx context.Context, accountID int64, username, password string) error {
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	acc, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO kmfx.client_logins (account_id, username, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET username = EXCLUDED.username, password_hash = EXCLUDED.password_hash
	`, accountID, username, hash)
	if isUniqueViolation(err) {
		return ErrUsernameUsed
	}
	if err != nil {
		return err
	}
	s.record(ctx, "Client Login Set", fmt.Sprintf("%s as %s", acc.Name, username))
	return nil
}
