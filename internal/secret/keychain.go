package secret

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

const keychainService = "siapxml"

// KeychainStore implements SecretStore with the platform credential store:
// the `security` CLI on macOS and libsecret's `secret-tool` elsewhere.
type KeychainStore struct {
	goos string
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{goos: runtime.GOOS}
}

// Set stores a secret, replacing any existing value.
func (k *KeychainStore) Set(key string, value []byte) error {
	var cmd *exec.Cmd
	switch k.goos {
	case "darwin":
		cmd = exec.Command("security", "add-generic-password",
			"-a", key,
			"-s", keychainService,
			"-w", string(value),
			"-U", // update if exists
		)
	case "windows":
		return ErrReadOnly
	default:
		cmd = exec.Command("secret-tool", "store",
			"--label", keychainService+" "+key,
			"service", keychainService,
			"account", key,
		)
		cmd.Stdin = bytes.NewReader(value)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keychain set: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Get returns nil and no error when the key does not exist or no
// credential store is available.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	var cmd *exec.Cmd
	switch k.goos {
	case "darwin":
		cmd = exec.Command("security", "find-generic-password",
			"-a", key,
			"-s", keychainService,
			"-w", // output only the password
		)
	case "windows":
		return nil, nil
	default:
		cmd = exec.Command("secret-tool", "lookup",
			"service", keychainService,
			"account", key,
		)
	}
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, exec.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return []byte(strings.TrimRight(string(out), "\r\n")), nil
}

// Delete removes a secret; a missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	var cmd *exec.Cmd
	switch k.goos {
	case "darwin":
		cmd = exec.Command("security", "delete-generic-password",
			"-a", key,
			"-s", keychainService,
		)
	case "windows":
		return ErrReadOnly
	default:
		cmd = exec.Command("secret-tool", "clear",
			"service", keychainService,
			"account", key,
		)
	}
	cmd.Run() // item may not exist
	return nil
}
