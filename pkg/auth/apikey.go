package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/samber/lo"
)

// APIKey is a named upstream API key
type APIKey struct {
	Name         string    `json:"name"`
	Value        string    `json:"value"`
	LastModified time.Time `json:"last_modified"`
}

// KeyStore is the interface for storing and retrieving API keys
type KeyStore interface {
	// Store saves a key under its name
	Store(key *APIKey) error

	// Retrieve gets the key with the given name
	Retrieve(name string) (*APIKey, error)

	// List returns all stored keys
	List() ([]*APIKey, error)

	// Delete removes the key with the given name
	Delete(name string) error

	// Exists checks if a key with the given name is stored
	Exists(name string) bool
}

// Manager handles key storage with fallback mechanisms
type Manager struct {
	stores []KeyStore
}

// NewManager creates a key manager over the system keyring, an encrypted
// file in the config directory and the environment, in that order
func NewManager() (*Manager, error) {
	var stores []KeyStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "keys.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores
func NewManagerWithStores(stores ...KeyStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves key using the first store that accepts it
func (m *Manager) Store(key *APIKey) error {
	if key == nil || key.Name == "" {
		return errors.New("key name is required")
	}
	if key.Value == "" {
		return errors.New("key value is required")
	}

	key.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(key); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store key: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets a key from the first store that has it
func (m *Manager) Retrieve(name string) (*APIKey, error) {
	for _, store := range m.stores {
		if key, err := store.Retrieve(name); err == nil && key != nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
}

// List returns the keys of all stores ordered by name. When a name appears
// in several stores the most recently modified copy wins.
func (m *Manager) List() ([]*APIKey, error) {
	byName := make(map[string]*APIKey)

	for _, store := range m.stores {
		keys, err := store.List()
		if err != nil {
			continue
		}
		for _, key := range keys {
			if existing, ok := byName[key.Name]; !ok || key.LastModified.After(existing.LastModified) {
				byName[key.Name] = key
			}
		}
	}

	result := lo.Values(byName)
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Keys returns the distinct key values in name order, ready for rotation
func (m *Manager) Keys() ([]string, error) {
	keys, err := m.List()
	if err != nil {
		return nil, err
	}
	return lo.Uniq(lo.Map(keys, func(k *APIKey, _ int) string { return k.Value })), nil
}

// Delete removes a key from every store holding it
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete key: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "invcrawler")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "invcrawler")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "invcrawler")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "invcrawler")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize returns a copy of key with the value masked
func Sanitize(key *APIKey) *APIKey {
	if key == nil {
		return nil
	}
	return &APIKey{
		Name:         key.Name,
		Value:        maskString(key.Value),
		LastModified: key.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrKeyNotFound      = errors.New("api key not found")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrStoreUnavailable = errors.New("key store unavailable")
)
