// Package profiles keeps named connection descriptors for the askctl CLI in
// the OS keychain, so credentials never touch a plain file.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// ServiceName identifies our keychain namespace.
const ServiceName = "ekaya-ask"

const keyPrefix = "profile:"

// ErrNotFound is returned when no profile has the requested name.
var ErrNotFound = errors.New("profile not found")

// Store reads and writes profiles in a keyring.
type Store struct {
	mu   sync.Mutex
	ring keyring.Keyring
}

// Open opens the platform keychain.
func Open() (*Store, error) {
	cfg := keyring.Config{
		ServiceName:              ServiceName,
		PassPrefix:               ServiceName,
		WinCredPrefix:            ServiceName,
		KeychainTrustApplication: true,
	}
	switch runtime.GOOS {
	case "darwin":
		cfg.AllowedBackends = []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		cfg.AllowedBackends = []keyring.BackendType{keyring.WinCredBackend}
	default:
		cfg.AllowedBackends = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend, keyring.PassBackend}
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("secure storage unavailable: %w", err)
	}
	return NewStore(ring), nil
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// storedProfile is the keychain payload. Credentials are kept unredacted.
type storedProfile struct {
	Type        string               `json:"type"`
	Family      models.BackendFamily `json:"family,omitempty"`
	Nickname    string               `json:"nickname,omitempty"`
	Credentials models.SecretBundle  `json:"credentials"`
}

// Save stores desc under name, replacing any previous profile.
func (s *Store) Save(name string, desc models.ConnectionDescriptor) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(storedProfile{
		Type:        desc.Type,
		Family:      desc.Family,
		Nickname:    desc.Nickname,
		Credentials: models.SecretBundle(desc.Credentials),
	})
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Set(keyring.Item{
		Key:         keyPrefix + name,
		Data:        data,
		Label:       ServiceName + " " + name,
		Description: "ekaya-ask connection profile",
	})
}

// Get returns the descriptor saved under name. The nickname defaults to name.
func (s *Store) Get(name string) (models.ConnectionDescriptor, error) {
	s.mu.Lock()
	item, err := s.ring.Get(keyPrefix + name)
	s.mu.Unlock()
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return models.ConnectionDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return models.ConnectionDescriptor{}, fmt.Errorf("failed to read profile %s: %w", name, err)
	}

	var p storedProfile
	if err := json.Unmarshal(item.Data, &p); err != nil {
		return models.ConnectionDescriptor{}, fmt.Errorf("profile %s is corrupt: %w", name, err)
	}
	desc := models.ConnectionDescriptor{
		Type:        p.Type,
		Family:      p.Family,
		Nickname:    p.Nickname,
		Credentials: models.Credentials(p.Credentials),
	}
	if desc.Nickname == "" {
		desc.Nickname = name
	}
	return desc, nil
}

// Names lists saved profile names in sorted order.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	keys, err := s.ring.Keys()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	var names []string
	for _, k := range keys {
		if name, ok := strings.CutPrefix(k, keyPrefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a profile.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Not every backend reports a missing key on removal.
	if _, err := s.ring.Get(keyPrefix + name); errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.ring.Remove(keyPrefix + name)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("profile name is required")
	}
	if strings.ContainsAny(name, " /\\:") {
		return fmt.Errorf("profile name %q must not contain spaces, slashes or colons", name)
	}
	return nil
}
