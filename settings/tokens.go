// Token cache: access tokens obtained via password grant, stored in
// the XDG data directory:
//
//	$XDG_DATA_HOME/tplsync/auth.json  (default: ~/.local/share/tplsync/auth.json)
//
// The file is a JSON object keyed by "<tenant>.<stage>". File
// permissions are 0600 (owner read/write only). Expired entries are
// ignored on read and overwritten on the next successful login.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	dataDirName   = "tplsync"
	tokenFileName = "auth.json"
)

// Token is one cached access token with its expiry timestamp.
type Token struct {
	// Access is the bearer token.
	Access string `json:"access"`
	// Expires is the Unix expiry timestamp (0 = unknown, treated as valid).
	Expires int64 `json:"expires,omitempty"`
}

// expiryMargin is subtracted from the expiry so a token about to expire
// is not handed to a run that may outlive it.
const expiryMargin = 60 * time.Second

// Valid reports whether the token can still be used.
func (t *Token) Valid() bool {
	if t == nil || t.Access == "" {
		return false
	}
	if t.Expires == 0 {
		return true
	}
	return time.Now().Unix() < t.Expires-int64(expiryMargin.Seconds())
}

// Store holds all cached tokens, keyed by "<tenant>.<stage>".
type Store map[string]*Token

// StoreKey builds the cache key for a tenant/stage pair.
func StoreKey(tenant, stage string) string {
	return tenant + "." + stage
}

// dataDir returns the XDG data directory for tplsync.
// Respects $XDG_DATA_HOME (falls back to ~/.local/share).
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", dataDirName), nil
}

func tokenFilePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, tokenFileName), nil
}

// TokenFilePath returns the auth.json path for display purposes.
func TokenFilePath() string {
	p, err := tokenFilePath()
	if err != nil {
		return ""
	}
	return p
}

// LoadTokens reads the token store from disk. Returns an empty store if
// the file doesn't exist or is invalid.
func LoadTokens() Store {
	path, err := tokenFilePath()
	if err != nil {
		return make(Store)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return make(Store)
	}

	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return make(Store)
	}
	if store == nil {
		return make(Store)
	}
	return store
}

// SaveTokens writes the token store to disk with 0600 permissions.
func SaveTokens(store Store) error {
	path, err := tokenFilePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tokens: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// CachedToken returns a still-valid cached token for a tenant/stage
// pair, or empty string if none is stored.
func CachedToken(tenant, stage string) string {
	store := LoadTokens()
	tok := store[StoreKey(tenant, stage)]
	if !tok.Valid() {
		return ""
	}
	return tok.Access
}

// CacheToken stores an access token for a tenant/stage pair (upsert).
func CacheToken(tenant, stage, access string, expires int64) error {
	store := LoadTokens()
	store[StoreKey(tenant, stage)] = &Token{Access: access, Expires: expires}
	return SaveTokens(store)
}

// MaskToken returns a masked version of a token for display.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
