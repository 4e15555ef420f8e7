package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"kmfx/internal/vault"

	"github.com/jackc/pgx/v5"
)

const maxUploadBytes = 200 << 20

type ClientFile struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	OriginalName string    `json:"original_name"`
	ObjectKey    string    `json:"-"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type EAVersion struct {
	ID           int64     `json:"id"`
	Version      string    `json:"version"`
	Notes        string    `json:"notes"`
	OriginalName string    `json:"original_name"`
	ObjectKey    string    `json:"-"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Download is either a presigned URL or an open body, never both.
type Download struct {
	Name        string
	ContentType string
	URL         string
	Body        io.ReadCloser
}

func (u Upload) validate() error {
	if strings.TrimSpace(u.Name) == "" || u.Body == nil {
		return fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if u.Size < 0 || u.Size > maxUploadBytes {
		return fmt.Errorf("%w: file larger than %d MB", ErrInvalidInput, maxUploadBytes>>20)
	}
	return nil
}

func (s *Service) UploadClientFile(ctx context.Context, accountID int64, up Upload, uploadedBy string) (ClientFile, error) {
	if err := up.validate(); err != nil {
		return ClientFile{}, err
	}
	acc, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return ClientFile{}, err
	}
	f := ClientFile{
		AccountID:    accountID,
		OriginalName: vault.SafeName(up.Name),
		ObjectKey:    vault.NewKey(fmt.Sprintf("clients/%d", accountID), up.Name),
		ContentType:  up.ContentType,
		SizeBytes:    up.Size,
		UploadedBy:   uploadedBy,
	}
	if f.ContentType == "" {
		f.ContentType = "application/octet-stream"
	}
	if err := s.blobs.Put(ctx, vault.Object{Key: f.ObjectKey, ContentType: f.ContentType, Size: f.SizeBytes}, up.Body); err != nil {
		return ClientFile{}, err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO kmfx.client_files (account_id, original_name, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, uploaded_at
	`, f.AccountID, f.OriginalName, f.ObjectKey, f.ContentType, f.SizeBytes, f.UploadedBy).Scan(&f.ID, &f.UploadedAt)
	if err != nil {
		if derr := s.blobs.Delete(ctx, f.ObjectKey); derr != nil {
			s.log.Warn().Err(derr).Str("key", f.ObjectKey).Msg("orphaned upload")
		}
		return ClientFile{}, fmt.Errorf("insert client file: %w", err)
	}
	s.record(ctx, "File Uploaded", fmt.Sprintf("%s for %s", f.OriginalName, acc.Name))
	s.send(ctx, accountID, "New File", fmt.Sprintf("A new file is available: %s", f.OriginalName))
	return f, nil
}

const clientFileColumns = `id, account_id, original_name, object_key, content_type, size_bytes, uploaded_by, uploaded_at`

func scanClientFile(row pgx.Row) (ClientFile, error) {
	var f ClientFile
	err := row.Scan(&f.ID, &f.AccountID, &f.OriginalName, &f.ObjectKey, &f.ContentType, &f.SizeBytes, &f.UploadedBy, &f.UploadedAt)
	return f, err
}

func (s *Service) ClientFiles(ctx context.Context, accountID int64) ([]ClientFile, error) {
	rows, err := s.db.Query(ctx, `SELECT `+clientFileColumns+` FROM kmfx.client_files WHERE account_id = $1 ORDER BY uploaded_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ClientFile, error) {
		return scanClientFile(row)
	})
}

func (s *Service) ClientFile(ctx context.Context, id int64) (ClientFile, error) {
	f, err := scanClientFile(s.db.QueryRow(ctx, `SELECT `+clientFileColumns+` FROM kmfx.client_files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return f, ErrNotFound
	}
	return f, err
}

func (s *Service) DownloadClientFile(ctx context.Context, id int64) (ClientFile, Download, error) {
	f, err := s.ClientFile(ctx, id)
	if err != nil {
		return f, Download{}, err
	}
	d, err := s.download(ctx, f.ObjectKey)
	d.Name, d.ContentType = f.OriginalName, f.ContentType
	return f, d, err
}

func (s *Service) DeleteClientFile(ctx context.Context, id int64) error {
	f, err := s.ClientFile(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM kmfx.client_files WHERE id = $1`, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, f.ObjectKey); err != nil {
		s.log.Warn().Err(err).Str("key", f.ObjectKey).Msg("delete object failed")
	}
	s.record(ctx, "File Deleted", f.OriginalName)
	return nil
}

func (s *Service) UploadEAVersion(ctx context.Context, version, notes string, up Upload) (EAVersion, error) {
	version, err := cleanText(version, 64)
	if err != nil {
		return EAVersion{}, err
	}
	if err := up.validate(); err != nil {
		return EAVersion{}, err
	}
	v := EAVersion{
		Version:      version,
		Notes:        strings.TrimSpace(notes),
		OriginalName: vault.SafeName(up.Name),
		ObjectKey:    vault.NewKey("ea", "KMFX_"+version+"_"+up.Name),
		SizeBytes:    up.Size,
	}
	if err := s.blobs.Put(ctx, vault.Object{Key: v.ObjectKey, ContentType: "application/octet-stream", Size: v.SizeBytes}, up.Body); err != nil {
		return EAVersion{}, err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO kmfx.ea_versions (version, notes, original_name, object_key, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, uploaded_at
	`, v.Version, v.Notes, v.OriginalName, v.ObjectKey, v.SizeBytes).Scan(&v.ID, &v.UploadedAt)
	if err != nil {
		return EAVersion{}, fmt.Errorf("insert ea version: %w", err)
	}
	s.record(ctx, "EA Version Uploaded", version)
	return v, nil
}

const eaColumns = `id, version, notes, original_name, object_key, size_bytes, uploaded_at`

func scanEA(row pgx.Row) (EAVersion, error) {
	var v EAVersion
	err := row.Scan(&v.ID, &v.Version, &v.Notes, &v.OriginalName, &v.ObjectKey, &v.SizeBytes, &v.UploadedAt)
	return v, err
}

func (s *Service) EAVersions(ctx context.Context) ([]EAVersion, error) {
	rows, err := s.db.Query(ctx, `SELECT `+eaColumns+` FROM kmfx.ea_versions ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (EAVersion, error) {
		return scanEA(row)
	})
}

func (s *Service) DownloadEAVersion(ctx context.Context, id int64) (EAVersion, Download, error) {
	v, err := scanEA(s.db.QueryRow(ctx, `SELECT `+eaColumns+` FROM kmfx.ea_versions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return v, Download{}, ErrNotFound
	}
	if err != nil {
		return v, Download{}, err
	}
	d, err := s.download(ctx, v.ObjectKey)
	d.Name, d.ContentType = v.OriginalName, "application/octet-stream"
	return v, d, err
}

func (s *Service) download(ctx context.Context, key string) (Download, error) {
	url, err := s.blobs.URL(ctx, key)
	if err != nil {
		return Download{}, err
	}
	if url != "" {
		return Download{URL: url}, nil
	}
	body, err := s.blobs.Open(ctx, key)
	if errors.Is(err, vault.ErrNotFound) {
		return Download{}, ErrNotFound
	}
	if err != nil {
		return Download{}, err
	}
	return Download{Body: body}, nil
}
