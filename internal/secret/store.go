package secret

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// SecretStore holds legacy database passwords outside the config file.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// ErrReadOnly is returned by stores that cannot persist secrets.
var ErrReadOnly = errors.New("secret store is read-only")

// PasswordKey is the store key of a source system's password.
func PasswordKey(source string) string {
	return "siapxml." + strings.ToUpper(strings.TrimSpace(source))
}

// EnvVar is the environment variable consulted for a source's password.
func EnvVar(source string) string {
	return "SIAPXML_" + strings.ToUpper(strings.TrimSpace(source)) + "_PASSWORD"
}

// EnvStore reads SIAPXML_<SOURCE>_PASSWORD variables.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore reads from the process environment.
func NewEnvStore() *EnvStore {
	return &EnvStore{lookup: os.LookupEnv}
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	source, ok := strings.CutPrefix(key, "siapxml.")
	if !ok {
		return nil, nil
	}
	if v, ok := e.lookup(EnvVar(source)); ok {
		return []byte(v), nil
	}
	return nil, nil
}

func (e *EnvStore) Set(string, []byte) error { return ErrReadOnly }
func (e *EnvStore) Delete(string) error      { return ErrReadOnly }

// Chain consults stores in order; Set and Delete go to the first writable one.
type Chain []SecretStore

func (c Chain) Get(key string) ([]byte, error) {
	for _, s := range c {
		v, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if len(v) > 0 {
			return v, nil
		}
	}
	return nil, nil
}

func (c Chain) Set(key string, value []byte) error {
	for _, s := range c {
		err := s.Set(key, value)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return ErrReadOnly
}

func (c Chain) Delete(key string) error {
	for _, s := range c {
		err := s.Delete(key)
		if errors.Is(err, ErrReadOnly) {
			continue
		}
		return err
	}
	return ErrReadOnly
}

// Default is the environment first, then the OS keychain.
func Default() SecretStore {
	return Chain{NewEnvStore(), NewKeychainStore()}
}

// Password returns the stored password for source, or "" when none is set.
func Password(s SecretStore, source string) (string, error) {
	v, err := s.Get(PasswordKey(source))
	if err != nil {
		return "", fmt.Errorf("password for %s: %w", source, err)
	}
	return string(v), nil
}
