package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"jerosync/internal/migrations"
	"jerosync/internal/models"
	"jerosync/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

const (
	getFlagQuery = `SELECT value FROM session_flags WHERE session_id = ? AND flag = ?`

	setFlagQuery = `
		INSERT INTO session_flags (session_id, flag, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id, flag) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`

	clearFlagsQuery = `DELETE FROM session_flags WHERE session_id = ?`

	saveIdentityQuery = `
		INSERT INTO identity (principal, token_enc, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(principal) DO UPDATE SET
			token_enc = excluded.token_enc,
			expires_at = excluded.expires_at
	`

	replaceOtherIdentitiesQuery = `DELETE FROM identity WHERE principal <> ?`

	loadIdentityQuery = `SELECT principal, token_enc, expires_at FROM identity LIMIT 1`

	deleteIdentityQuery = `DELETE FROM identity WHERE principal = ?`
)

// StoredIdentity is the identity token as persisted between runs
type StoredIdentity struct {
	Principal string
	Token     string
	ExpiresAt time.Time
}

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, "failed to ping database", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return nil, closeWith(db, "failed to read schema", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, closeWith(db, "failed to initialize schema", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, "failed to initialize encryptor", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func closeWith(db *sql.DB, msg string, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%s: %w (close error: %v)", msg, err, closeErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database file is still usable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SessionStore returns the flag store for one session
func (d *Database) SessionStore(sessionID string) *SessionStore {
	return &SessionStore{db: d, sessionID: models.CanonicalID(sessionID)}
}

// SaveIdentity stores the identity token, encrypted when encryption is
// enabled. Only one identity is kept; saving replaces any other principal.
func (d *Database) SaveIdentity(ctx context.Context, principal, token string, expiresAt time.Time) error {
	sealed, err := d.encryptor.Encrypt(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt identity token: %w", err)
	}

	var expires sql.NullTime
	if !expiresAt.IsZero() {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	id := models.CanonicalID(principal)
	return retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, replaceOtherIdentitiesQuery, id); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, saveIdentityQuery, id, sealed, expires); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}, "save identity")
}

// LoadIdentity returns the saved identity, or nil if none is stored
func (d *Database) LoadIdentity(ctx context.Context) (*StoredIdentity, error) {
	type row struct {
		principal string
		sealed    string
		expires   sql.NullTime
	}

	r, err := retryableDBOperation(ctx, func() (row, error) {
		var r row
		err := d.db.QueryRowContext(ctx, loadIdentityQuery).Scan(&r.principal, &r.sealed, &r.expires)
		return r, err
	}, "load identity")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	token, err := d.encryptor.Decrypt(r.sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt identity token: %w", err)
	}

	stored := &StoredIdentity{Principal: r.principal, Token: token}
	if r.expires.Valid {
		stored.ExpiresAt = r.expires.Time
	}
	return stored, nil
}

// DeleteIdentity removes a stored identity and its session flags
func (d *Database) DeleteIdentity(ctx context.Context, principal string) error {
	id := models.CanonicalID(principal)
	return retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteIdentityQuery, id); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, clearFlagsQuery, id); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}, "delete identity")
}

// SessionStore keeps boolean flags scoped to one session
type SessionStore struct {
	db        *Database
	sessionID string
}

func (s *SessionStore) GetFlag(ctx context.Context, flag string) (bool, error) {
	value, err := retryableDBOperation(ctx, func() (bool, error) {
		var v bool
		err := s.db.db.QueryRowContext(ctx, getFlagQuery, s.sessionID, flag).Scan(&v)
		return v, err
	}, "get session flag")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value, nil
}

func (s *SessionStore) SetFlag(ctx context.Context, flag string, value bool) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := s.db.db.ExecContext(ctx, setFlagQuery, s.sessionID, flag, value)
		return err
	}, "set session flag")
}

// Clear drops every flag of the session
func (s *SessionStore) Clear(ctx context.Context) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := s.db.db.ExecContext(ctx, clearFlagsQuery, s.sessionID)
		return err
	}, "clear session flags")
}
