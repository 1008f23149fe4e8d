package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"abplayer/internal/config"
)

func init() {
	hashCost = bcrypt.MinCost
}

func TestUserStore(t *testing.T) {
	usersFile := filepath.Join(t.TempDir(), "test_users.toml")

	userStore, err := NewUserStore(usersFile)
	if err != nil {
		t.Fatalf("Failed to create user store: %v", err)
	}

	t.Run("DefaultUserCreated", func(t *testing.T) {
		if userStore.Count() != 1 {
			t.Errorf("Expected 1 default user, got %d", userStore.Count())
		}
		if _, err := os.Stat(usersFile); err != nil {
			t.Errorf("Expected users file to be written: %v", err)
		}
	})

	t.Run("AddUser", func(t *testing.T) {
		if err := userStore.AddUser("engineer", "password123"); err != nil {
			t.Fatalf("Failed to add user: %v", err)
		}
		if err := userStore.AddUser("engineer", "password456"); !errors.Is(err, ErrUserExists) {
			t.Errorf("Expected ErrUserExists, got %v", err)
		}
		if err := userStore.AddUser("", "x"); err == nil {
			t.Error("Expected error for empty username")
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		if !userStore.Authenticate("engineer", "password123") {
			t.Error("Expected authentication to succeed with valid credentials")
		}
		if userStore.Authenticate("engineer", "wrongpassword") {
			t.Error("Expected authentication to fail with invalid password")
		}
		if userStore.Authenticate("nonexistent", "password123") {
			t.Error("Expected authentication to fail for non-existent user")
		}
	})

	t.Run("Reload", func(t *testing.T) {
		reloaded, err := NewUserStore(usersFile)
		if err != nil {
			t.Fatalf("Failed to reload user store: %v", err)
		}
		if reloaded.Count() != 2 {
			t.Errorf("Expected 2 users after reload, got %d", reloaded.Count())
		}
		if !reloaded.Authenticate("engineer", "password123") {
			t.Error("Expected stored hash to authenticate after reload")
		}
	})
}

func TestPlaintextPasswordsHashed(t *testing.T) {
	usersFile := filepath.Join(t.TempDir(), "users.toml")
	content := `
[[users]]
username = "mia"
password = "letmein"
`
	if err := os.WriteFile(usersFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewUserStore(usersFile)
	if err != nil {
		t.Fatalf("Failed to load users: %v", err)
	}
	if !store.Authenticate("mia", "letmein") {
		t.Error("Expected plaintext password to authenticate")
	}

	data, err := os.ReadFile(usersFile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "letmein") {
		t.Error("Expected plaintext password to be replaced by a hash")
	}
}

func TestIsHashedPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	testCases := []struct {
		input    string
		expected bool
	}{
		{string(hash), true},
		{"$2b$10$short", false},
		{"plaintext", false},
		{"$1$md5", false},
		{"", false},
	}

	for _, tc := range testCases {
		if got := isHashedPassword(tc.input); got != tc.expected {
			t.Errorf("isHashedPassword(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestService(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		svc, err := NewService(&config.AuthConfig{Enabled: false})
		if err != nil {
			t.Fatalf("Failed to create disabled auth service: %v", err)
		}
		if svc.IsEnabled() {
			t.Error("Expected auth service to be disabled")
		}
		if !svc.Check("anyone", "anything") {
			t.Error("Expected disabled service to accept any credentials")
		}
		if svc.Users() != nil {
			t.Error("Expected no user store when disabled")
		}
		if svc.Realm() != "abplayer" {
			t.Errorf("Expected default realm, got %s", svc.Realm())
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		svc, err := NewService(&config.AuthConfig{
			Enabled:       true,
			UsersFilePath: filepath.Join(t.TempDir(), "users.toml"),
			Realm:         "mastering",
		})
		if err != nil {
			t.Fatalf("Failed to create auth service: %v", err)
		}
		if err := svc.Users().AddUser("client", "s3cret"); err != nil {
			t.Fatal(err)
		}
		if !svc.Check("client", "s3cret") {
			t.Error("Expected valid credentials to pass")
		}
		if svc.Check("client", "nope") {
			t.Error("Expected invalid credentials to fail")
		}
		if svc.Realm() != "mastering" {
			t.Errorf("Expected realm mastering, got %s", svc.Realm())
		}
	})
}
