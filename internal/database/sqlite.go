package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"aperture/internal/aperture"
	"aperture/internal/database/migrations"
	"aperture/internal/model"
)

const timeFormat = time.RFC3339Nano

// SQLiteDatabase implements aperture.Database on SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path, or an in-memory database for
// ":memory:", and migrates it to the latest schema.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection pool configured for the ledger.
// Connection settings travel in the DSN so every pooled connection gets them.
func OpenConnection(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")

	memory := path == ":memory:"
	var dsn string
	if memory {
		dsn = "file::memory:?" + params.Encode()
	} else {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
		dsn = "file:" + path + "?" + params.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// Device operations

const deviceColumns = `id, display_name, is_global, is_read_only, platform_kind, platform_version,
	created_at, last_sync_at, last_remote_address`

func (s *SQLiteDatabase) CreateDevice(ctx context.Context, device *model.Device) error {
	if err := insertDevice(ctx, s.db, device); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteDatabase) CreateDeviceWithCredential(ctx context.Context, device *model.Device, cred *model.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertDevice(ctx, tx, device); err != nil {
		return err
	}
	if err := insertCredential(ctx, tx, cred); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, deviceID)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding device: %w", err)
	}
	return device, nil
}

func (s *SQLiteDatabase) UpdateDevice(ctx context.Context, deviceID string, patch model.DevicePatch) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE devices SET
			display_name = COALESCE(?, display_name),
			last_remote_address = COALESCE(?, last_remote_address)
		WHERE id = ?
		RETURNING `+deviceColumns,
		nullString(patch.DisplayName), nullString(patch.LastRemoteAddress), deviceID)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("updating device: %w", err)
	}
	return device, nil
}

func (s *SQLiteDatabase) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_sync_at = ? WHERE id = ?`, formatTime(at), deviceID)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListDevices(ctx context.Context) ([]*model.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []*model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// Credential operations

func (s *SQLiteDatabase) CreateCredential(ctx context.Context, cred *model.Credential) error {
	return insertCredential(ctx, s.db, cred)
}

func (s *SQLiteDatabase) FindCredential(ctx context.Context, deviceID string) (*model.Credential, error) {
	var (
		cred      model.Credential
		algorithm string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, secret_hash, salt, hash_algorithm, hash_params, created_at
		FROM credentials WHERE device_id = ?`, deviceID).
		Scan(&cred.DeviceID, &cred.SecretHash, &cred.Salt, &algorithm, &cred.Params, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding credential: %w", err)
	}
	cred.Algorithm = model.HashAlgorithm(algorithm)
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Ledger operations

const entryColumns = `id, device_id, content_key, file_name, relative_path, dir_path, client_path,
	byte_size, storage_location, mime_type, perceptual_hash, modified_at, accessed_at, created_at,
	recorded_at, updated_at`

func (s *SQLiteDatabase) UpsertEntry(ctx context.Context, e *model.LocalEntry) (*model.LocalEntry, bool, error) {
	var (
		id         string
		recordedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO local_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, content_key) DO UPDATE SET
			file_name = excluded.file_name,
			relative_path = excluded.relative_path,
			dir_path = excluded.dir_path,
			client_path = excluded.client_path,
			byte_size = excluded.byte_size,
			storage_location = excluded.storage_location,
			mime_type = excluded.mime_type,
			perceptual_hash = excluded.perceptual_hash,
			modified_at = excluded.modified_at,
			accessed_at = excluded.accessed_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		RETURNING id, recorded_at`,
		e.ID, e.DeviceID, e.ContentKey, e.FileName, e.RelativePath, e.DirPath, e.ClientPath,
		e.ByteSize, e.StorageLocation, nullString(e.MimeType), nullString(e.PerceptualHash),
		formatTime(e.Metadata.ModifiedAt), formatTime(e.Metadata.AccessedAt), nullTime(e.Metadata.CreatedAt),
		formatTime(e.RecordedAt), formatTime(e.UpdatedAt),
	).Scan(&id, &recordedAt)
	if err != nil {
		return nil, false, mapConstraintError(err, "upserting entry")
	}

	stored := *e
	stored.ID = id
	if stored.RecordedAt, err = parseTime(recordedAt); err != nil {
		return nil, false, err
	}
	return &stored, id == e.ID, nil
}

func (s *SQLiteDatabase) FindEntry(ctx context.Context, deviceID, contentKey string) (*model.LocalEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM local_entries
		WHERE device_id = ? AND content_key = ?`, deviceID, contentKey)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding entry: %w", err)
	}
	return entry, nil
}

func (s *SQLiteDatabase) ListEntries(ctx context.Context, deviceID string) ([]*model.LocalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM local_entries
		WHERE device_id = ? ORDER BY relative_path, file_name`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LocalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ aperture.Database = (*SQLiteDatabase)(nil)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDevice(ctx context.Context, ex execer, d *model.Device) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DisplayName, d.IsGlobal, d.IsReadOnly, string(d.Platform.Kind), d.Platform.Version,
		formatTime(d.CreatedAt), formatTime(d.LastSyncAt), d.LastRemoteAddress)
	if err != nil {
		return mapConstraintError(err, "inserting device")
	}
	return nil
}

func insertCredential(ctx context.Context, ex execer, c *model.Credential) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO credentials
		(device_id, secret_hash, salt, hash_algorithm, hash_params, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.DeviceID, c.SecretHash, c.Salt, string(c.Algorithm), c.Params, formatTime(c.CreatedAt))
	if err != nil {
		return mapConstraintError(err, "inserting credential")
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*model.Device, error) {
	var (
		d                   model.Device
		kind, version       string
		createdAt, lastSync string
	)
	if err := row.Scan(&d.ID, &d.DisplayName, &d.IsGlobal, &d.IsReadOnly, &kind, &version,
		&createdAt, &lastSync, &d.LastRemoteAddress); err != nil {
		return nil, err
	}
	d.Platform = model.Platform{Kind: model.PlatformKind(kind), Version: version}

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.LastSyncAt, err = parseTime(lastSync); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanEntry(row scanner) (*model.LocalEntry, error) {
	var (
		e                                 model.LocalEntry
		mimeType, perceptualHash, created sql.NullString
		modified, accessed, recorded, upd string
	)
	if err := row.Scan(&e.ID, &e.DeviceID, &e.ContentKey, &e.FileName, &e.RelativePath, &e.DirPath,
		&e.ClientPath, &e.ByteSize, &e.StorageLocation, &mimeType, &perceptualHash,
		&modified, &accessed, &created, &recorded, &upd); err != nil {
		return nil, err
	}
	if mimeType.Valid {
		e.MimeType = &mimeType.String
	}
	if perceptualHash.Valid {
		e.PerceptualHash = &perceptualHash.String
	}

	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&e.Metadata.ModifiedAt, modified},
		{&e.Metadata.AccessedAt, accessed},
		{&e.RecordedAt, recorded},
		{&e.UpdatedAt, upd},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	if created.Valid {
		t, err := parseTime(created.String)
		if err != nil {
			return nil, err
		}
		e.Metadata.CreatedAt = &t
	}
	e.Metadata.Size = e.ByteSize
	return &e, nil
}

// mapConstraintError reports key violations as conflicts and wraps everything else.
func mapConstraintError(err error, action string) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		switch sqlErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return aperture.WrapError(aperture.KindConflict, conflictMessage(action), err)
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}

func conflictMessage(action string) string {
	switch {
	case strings.Contains(action, "device"):
		return "device already exists"
	case strings.Contains(action, "credential"):
		return "device already has a credential"
	default:
		return "entry already exists"
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
