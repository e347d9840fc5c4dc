package auth

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvKeys lists API keys separated by commas
const EnvKeys = "INVCRAWLER_API_KEYS"

// EnvironmentStore implements KeyStore over the INVCRAWLER_API_KEYS
// variable. Keys are named env-1, env-2, ... in listing order. It is
// read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based key store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(*APIKey) error {
	return ErrStoreUnavailable
}

// Retrieve gets a key by its env-N name
func (e *EnvironmentStore) Retrieve(name string) (*APIKey, error) {
	keys, _ := e.List()
	for _, key := range keys {
		if key.Name == name {
			return key, nil
		}
	}
	return nil, ErrKeyNotFound
}

// List returns the keys in the environment
func (e *EnvironmentStore) List() ([]*APIKey, error) {
	now := time.Now()
	var keys []*APIKey
	for _, value := range strings.Split(os.Getenv(EnvKeys), ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		keys = append(keys, &APIKey{
			Name:         fmt.Sprintf("env-%d", len(keys)+1),
			Value:        value,
			LastModified: now,
		})
	}
	return keys, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

// Exists checks if the named key is in the environment
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
