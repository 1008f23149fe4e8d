package auth

import (
	"fmt"

	"abplayer/internal/config"
)

// Service guards the preview server with HTTP basic credentials
type Service struct {
	config    *config.AuthConfig
	userStore *UserStore
	enabled   bool
}

// NewService creates a new authentication service
func NewService(config *config.AuthConfig) (*Service, error) {
	if !config.Enabled {
		return &Service{
			config:  config,
			enabled: false,
		}, nil
	}

	userStore, err := NewUserStore(config.UsersFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create user store: %w", err)
	}

	return &Service{
		config:    config,
		userStore: userStore,
		enabled:   true,
	}, nil
}

// IsEnabled returns whether authentication is enabled
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Check validates a username and password. Everything passes when
// authentication is disabled.
func (s *Service) Check(username, password string) bool {
	if !s.enabled {
		return true
	}
	return s.userStore.Authenticate(username, password)
}

// Realm is sent in the WWW-Authenticate challenge
func (s *Service) Realm() string {
	if s.config.Realm == "" {
		return "abplayer"
	}
	return s.config.Realm
}

// Users returns the backing store, nil when disabled
func (s *Service) Users() *UserStore {
	return s.userStore
}
