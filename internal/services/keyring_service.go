package services

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const serviceName = "parley"

// Keyring entry names for the sync session.
const (
	syncTokenEntry   = "sync-token"
	syncRefreshEntry = "sync-refresh-token"
)

// KeyringService stores sync credentials in the OS keychain so they never
// land in the database or a config file.
type KeyringService struct {
}

func NewKeyringService() *KeyringService {
	return &KeyringService{}
}

func (s *KeyringService) StoreSyncSession(token, refreshToken string) error {
	if token == "" {
		return errors.New("token is empty")
	}

	if err := keyring.Set(serviceName, syncTokenEntry, token); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}
	return keyring.Set(serviceName, syncRefreshEntry, refreshToken)
}

func (s *KeyringService) SyncToken() (string, error) {
	return keyring.Get(serviceName, syncTokenEntry)
}

func (s *KeyringService) SyncRefreshToken() (string, error) {
	return keyring.Get(serviceName, syncRefreshEntry)
}

// HasSyncSession reports whether a session token is stored.
func (s *KeyringService) HasSyncSession() bool {
	_, err := keyring.Get(serviceName, syncTokenEntry)
	return err == nil
}

// ClearSyncSession removes both entries. Missing entries are not failures.
func (s *KeyringService) ClearSyncSession() error {
	if err := keyring.Delete(serviceName, syncTokenEntry); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	if err := keyring.Delete(serviceName, syncRefreshEntry); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
