package auth

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
)

var hashCost = 12

var ErrUserExists = errors.New("reviewer already exists")

const usersFileHeader = `# Reviewers allowed to compare mix and master previews.
# Add a [[users]] table with a plaintext password; it is replaced by a
# bcrypt hash the next time the server starts.

`

// User is a reviewer account.
type User struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Created  string `toml:"created"`
}

type usersFile struct {
	Users []User `toml:"users"`
}

// UserStore keeps reviewer accounts in a TOML file.
type UserStore struct {
	mu    sync.RWMutex
	path  string
	users map[string]User
}

// NewUserStore loads path. A missing file is seeded with one reviewer
// whose generated password is printed once.
func NewUserStore(path string) (*UserStore, error) {
	us := &UserStore{path: path, users: make(map[string]User)}

	var doc usersFile
	_, err := toml.DecodeFile(path, &doc)
	switch {
	case os.IsNotExist(err):
		if err := us.seed(); err != nil {
			return nil, err
		}
		return us, nil
	case err != nil:
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	rehashed := 0
	for i, u := range doc.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("users[%d] has no username", i)
		}
		if !isHashedPassword(u.Password) {
			if u.Password, err = hashPassword(u.Password); err != nil {
				return nil, fmt.Errorf("failed to hash password for %s: %w", u.Username, err)
			}
			rehashed++
		}
		us.users[u.Username] = u
	}
	if rehashed > 0 {
		if err := us.persist(); err != nil {
			return nil, err
		}
	}
	return us, nil
}

func (us *UserStore) seed() error {
	password, err := randomPassword()
	if err != nil {
		return err
	}
	if err := us.AddUser("reviewer", password); err != nil {
		return err
	}
	fmt.Printf("\nPreview account created in %s\n  username: reviewer\n  password: %s\n\n", us.path, password)
	return nil
}

// persist rewrites the file through a rename. Callers hold the write lock
// or own the store exclusively.
func (us *UserStore) persist() error {
	names := make([]string, 0, len(us.users))
	for name := range us.users {
		names = append(names, name)
	}
	sort.Strings(names)
	doc := usersFile{Users: make([]User, 0, len(names))}
	for _, name := range names {
		doc.Users = append(doc.Users, us.users[name])
	}

	var b strings.Builder
	b.WriteString(usersFileHeader)
	if err := toml.NewEncoder(&b).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(us.path), ".users-*.toml")
	if err != nil {
		return fmt.Errorf("failed to write users file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), us.path)
}

// Authenticate reports whether password matches the stored hash.
func (us *UserStore) Authenticate(username, password string) bool {
	us.mu.RLock()
	u, ok := us.users[username]
	us.mu.RUnlock()
	return ok && bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
}

// AddUser stores a new reviewer and rewrites the file.
func (us *UserStore) AddUser(username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	us.mu.Lock()
	defer us.mu.Unlock()
	if _, ok := us.users[username]; ok {
		return ErrUserExists
	}
	us.users[username] = User{
		Username: username,
		Password: hash,
		Created:  time.Now().UTC().Format(time.RFC3339),
	}
	return us.persist()
}

func (us *UserStore) Count() int {
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.users)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	return string(hash), err
}

// isHashedPassword reports whether s parses as a bcrypt hash.
func isHashedPassword(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.EncodeToString(buf)), nil
}
