package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jerosync/internal/constants"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*Database, string) {
	t.Helper()
	enableEncryption(t)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db, dbPath
}

func TestNewDatabase(t *testing.T) {
	enableEncryption(t)

	tests := []struct {
		name        string
		setupPath   func(t *testing.T) string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid path",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.db")
			},
		},
		{
			name: "invalid path with null byte",
			setupPath: func(t *testing.T) string {
				return "\x00invalid"
			},
			expectError: true,
			errorMsg:    "invalid database path",
		},
		{
			name: "path with traversal",
			setupPath: func(t *testing.T) string {
				return "../../etc/jerosync.db"
			},
			expectError: true,
			errorMsg:    "invalid database path",
		},
		{
			name: "missing directory",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing", "test.db")
			},
			expectError: true,
			errorMsg:    "failed to create database file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := New(tt.setupPath(t))
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, db.Ping(context.Background()))
			assert.NoError(t, db.Close())
		})
	}
}

func TestNewDatabase_EncryptorFailure(t *testing.T) {
	t.Setenv(encryptionEnableEnv, "true")
	t.Setenv(encryptionSecretEnv, "")

	_, err := New(filepath.Join(t.TempDir(), "test.db"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize encryptor")
}

func TestNewDatabase_FilePermissions(t *testing.T) {
	_, dbPath := setupTestDB(t)

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSessionStore_Flags(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	store := db.SessionStore("Alice")

	played, err := store.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.False(t, played)

	require.NoError(t, store.SetFlag(ctx, constants.IntroFlagName, true))
	played, err = store.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.True(t, played)

	same := db.SessionStore(" alice ")
	played, err = same.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.True(t, played, "session ids are canonical")

	other := db.SessionStore("bob")
	played, err = other.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.False(t, played, "flags are scoped to a session")

	require.NoError(t, store.SetFlag(ctx, constants.IntroFlagName, false))
	played, err = store.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.False(t, played)

	require.NoError(t, store.SetFlag(ctx, constants.IntroFlagName, true))
	require.NoError(t, store.Clear(ctx))
	played, err = store.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.False(t, played)
}

func TestIdentity_SaveLoad(t *testing.T) {
	db, dbPath := setupTestDB(t)
	ctx := context.Background()

	stored, err := db.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.SaveIdentity(ctx, "Alice", "token-1", expires))

	stored, err = db.LoadIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.Principal)
	assert.Equal(t, "token-1", stored.Token)
	assert.True(t, expires.Equal(stored.ExpiresAt))

	raw, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer func() { _ = raw.Close() }()
	var sealed string
	require.NoError(t, raw.QueryRow(`SELECT token_enc FROM identity`).Scan(&sealed))
	assert.NotEqual(t, "token-1", sealed, "token is encrypted at rest")
}

func TestIdentity_SaveReplaces(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveIdentity(ctx, "alice", "token-1", time.Time{}))
	require.NoError(t, db.SaveIdentity(ctx, "alice", "token-2", time.Time{}))

	stored, err := db.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", stored.Token)
	assert.True(t, stored.ExpiresAt.IsZero())

	require.NoError(t, db.SaveIdentity(ctx, "bob", "token-3", time.Time{}))
	stored, err = db.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.Principal)
	assert.Equal(t, "token-3", stored.Token)
}

func TestIdentity_DeleteClearsFlags(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveIdentity(ctx, "alice", "token-1", time.Time{}))
	store := db.SessionStore("alice")
	require.NoError(t, store.SetFlag(ctx, constants.IntroFlagName, true))

	require.NoError(t, db.DeleteIdentity(ctx, "Alice"))

	stored, err := db.LoadIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	played, err := store.GetFlag(ctx, constants.IntroFlagName)
	require.NoError(t, err)
	assert.False(t, played)
}

func TestIdentity_PlaintextWhenEncryptionDisabled(t *testing.T) {
	t.Setenv(encryptionEnableEnv, "false")
	dbPath := filepath.Join(t.TempDir(), "plain.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.SaveIdentity(context.Background(), "alice", "token-1", time.Time{}))

	stored, err := db.LoadIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", stored.Token)
}

func TestDatabaseOperationsWithClosedDB(t *testing.T) {
	db, _ := setupTestDB(t)
	require.NoError(t, db.Close())
	ctx := context.Background()

	_, err := db.LoadIdentity(ctx)
	assert.Error(t, err)
	assert.Error(t, db.SaveIdentity(ctx, "alice", "t", time.Time{}))

	_, err = db.SessionStore("alice").GetFlag(ctx, constants.IntroFlagName)
	assert.Error(t, err)
	assert.Error(t, db.SessionStore("alice").SetFlag(ctx, constants.IntroFlagName, true))
}
