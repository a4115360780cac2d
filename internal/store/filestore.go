package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

// FileSessions is a file-backed schemas.SessionRepository: one JSON file
// per account under dir. It is the default backend when no Postgres URL
// is configured.
type FileSessions struct {
	dir string
}

// NewFileSessions creates the session directory if needed.
func NewFileSessions(dir string) (*FileSessions, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session dir %s: %w", dir, err)
	}
	return &FileSessions{dir: dir}, nil
}

// path rejects account ids that would escape the session directory.
func (f *FileSessions) path(accountID string) (string, error) {
	if accountID == "" || strings.ContainsAny(accountID, `/\`) || strings.Contains(accountID, "..") {
		return "", fmt.Errorf("invalid account id %q", accountID)
	}
	return filepath.Join(f.dir, accountID+".json"), nil
}

func (f *FileSessions) Load(_ context.Context, accountID string) (*schemas.Session, error) {
	path, err := f.path(accountID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, schemas.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session schemas.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", path, err)
	}
	return &session, nil
}

func (f *FileSessions) Save(_ context.Context, session *schemas.Session) error {
	path, err := f.path(session.AccountID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	// Write-then-rename keeps readers from seeing a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize session file: %w", err)
	}
	return nil
}

func (f *FileSessions) Delete(_ context.Context, accountID string) error {
	path, err := f.path(accountID)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return schemas.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}
