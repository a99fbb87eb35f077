package auth

import (
	"fmt"
	"os"
	"sync"
	"time"

	"intermezzo/internal/config"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service provides single-password API authentication. Clients exchange the
// shared password for a bearer token; tokens expire after the configured
// session timeout.
type Service struct {
	passwordHash []byte
	duration     time.Duration
	tokens       map[string]*Token
	mutex        sync.RWMutex
	enabled      bool
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewService creates the auth service. The INTERMEZZO_PASSWORD_HASH
// environment variable overrides the configured hash.
func NewService(cfg *config.AuthConfig) (*Service, error) {
	s := &Service{
		tokens:   make(map[string]*Token),
		stopChan: make(chan struct{}),
	}

	if !cfg.Enabled {
		return s, nil
	}

	hash := cfg.PasswordHash
	if env := os.Getenv("INTERMEZZO_PASSWORD_HASH"); env != "" {
		hash = env
	}
	if hash == "" {
		return nil, fmt.Errorf("auth enabled but no password hash configured")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}

	s.passwordHash = []byte(hash)
	s.duration = time.Duration(cfg.SessionTimeout) * time.Minute
	s.enabled = true

	go s.cleanupLoop()

	return s, nil
}

// IsEnabled returns whether authentication is enabled
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Login verifies the password and issues a bearer token.
func (s *Service) Login(password string) (*Token, error) {
	if !s.enabled {
		return nil, fmt.Errorf("authentication is disabled")
	}

	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	now := time.Now()
	token := &Token{
		Value:     uuid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.duration),
	}

	s.mutex.Lock()
	s.tokens[token.Value] = token
	s.mutex.Unlock()

	return token, nil
}

// ValidateToken checks whether a bearer token is current.
func (s *Service) ValidateToken(value string) bool {
	if !s.enabled {
		return true
	}

	s.mutex.RLock()
	token, exists := s.tokens[value]
	s.mutex.RUnlock()

	if !exists {
		return false
	}

	if time.Now().After(token.ExpiresAt) {
		s.RevokeToken(value)
		return false
	}

	return true
}

// RevokeToken invalidates a token.
func (s *Service) RevokeToken(value string) {
	s.mutex.Lock()
	delete(s.tokens, value)
	s.mutex.Unlock()
}

// Close stops the cleanup goroutine.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// cleanupLoop periodically drops expired tokens.
func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			s.mutex.Lock()
			for value, token := range s.tokens {
				if now.After(token.ExpiresAt) {
					delete(s.tokens, value)
				}
			}
			s.mutex.Unlock()
		}
	}
}

// HashPassword produces a bcrypt hash suitable for the config file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
