package amconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccountNotFound indicates no config exists for the account.
var ErrAccountNotFound = errors.New("account config not found")

// Provider resolves per-account configuration and uploaded files. The
// core treats it as a read-only, always-current lookup.
// Params: account-scoped config and file resolution.
// Returns: collaborator contract consumed by dispatch and actors.
type Provider interface {
	ResolveAccount(ctx context.Context, accountID string) (Config, error)
	LoadFile(ctx context.Context, accountID, path string) ([]byte, error)
}

// FileProvider serves account configs from a directory of
// `<accountID>.yaml` files and uploaded files from a per-account
// subdirectory.
type FileProvider struct {
	configDir string
	filesDir  string
}

// NewFileProvider creates a provider over the two directories.
// Params: account config directory and uploaded-files directory.
// Returns: initialized provider.
func NewFileProvider(configDir, filesDir string) *FileProvider {
	return &FileProvider{configDir: configDir, filesDir: filesDir}
}

// ResolveAccount reads and parses the account's YAML config.
// Params: account ID.
// Returns: normalized config, ErrAccountNotFound when absent.
func (p *FileProvider) ResolveAccount(_ context.Context, accountID string) (Config, error) {
	if err := validateAccountID(accountID); err != nil {
		return Config{}, err
	}
	body, err := os.ReadFile(filepath.Join(p.configDir, accountID+".yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("account %q: %w", accountID, ErrAccountNotFound)
		}
		return Config{}, fmt.Errorf("read config for account %q: %w", accountID, err)
	}
	cfg, err := Parse(body)
	if err != nil {
		return Config{}, fmt.Errorf("account %q: %w", accountID, err)
	}
	return cfg, nil
}

// LoadFile reads one uploaded file referenced by a `_file` config field.
// Params: account ID and file path relative to the account's directory.
// Returns: file contents or lookup error.
func (p *FileProvider) LoadFile(_ context.Context, accountID, path string) ([]byte, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	root := filepath.Join(p.filesDir, accountID)
	full := filepath.Join(root, filepath.FromSlash(path))
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("file path %q escapes account directory", path)
	}
	body, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("load file %q for account %q: %w", path, accountID, err)
	}
	return body, nil
}

// validateAccountID keeps account IDs safe for path and actor-name use.
// Params: account ID.
// Returns: error on empty IDs or path separators.
func validateAccountID(accountID string) error {
	if accountID == "" {
		return errors.New("empty account id")
	}
	if strings.ContainsAny(accountID, "/\\.") {
		return fmt.Errorf("invalid account id %q", accountID)
	}
	return nil
}
