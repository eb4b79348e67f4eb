package auth

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
)

// Keys in the Cursor editor's ItemTable key/value store.
const (
	cursorAccessTokenKey  = "cursorAuth/accessToken"
	cursorRefreshTokenKey = "cursorAuth/refreshToken"
	cursorEmailKey        = "cursorAuth/cachedEmail"
)

// ImportCursorAccount reads the Cursor editor's local state database and
// builds an account from its stored session, so users who are already
// signed in to the editor need no separate login.
func ImportCursorAccount() (*store.Account, error) {
	path := config.CursorStateDBPath()
	if path == "" {
		return nil, fmt.Errorf("could not locate Cursor state database")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("Cursor state database not found at %s", path)
	}
	return importCursorAccountFrom(path)
}

func importCursorAccountFrom(path string) (*store.Account, error) {
	// Read-only and immutable: the editor may hold the database open.
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open Cursor state database: %w", err)
	}
	defer db.Close()

	accessToken, err := readItem(db, cursorAccessTokenKey)
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, fmt.Errorf("no Cursor session found; sign in to the editor first")
	}

	refreshToken, _ := readItem(db, cursorRefreshTokenKey)
	email, _ := readItem(db, cursorEmailKey)

	a := store.NewAccount(config.BackendCursor, email)
	a.Credentials = store.Credentials{
		AccessToken:  strings.TrimSpace(accessToken),
		RefreshToken: strings.TrimSpace(refreshToken),
	}

	utils.Success("Imported Cursor session for %s", a.DisplayName())
	return a, nil
}

func readItem(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM ItemTable WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	// Values are stored JSON-encoded; plain strings carry quotes.
	return strings.Trim(value, `"`), nil
}
