package storage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUserNotFound indicates a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrGroupNotFound indicates a referenced group does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrUserExists indicates a user with the same username already exists.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidName indicates an empty username, group or tag name.
	ErrInvalidName = errors.New("name must not be empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// User is an account created by the startup scripts.
type User struct {
	Username     string
	PasswordHash string
	Email        string
	FirstName    string
	LastName     string
	IsStaff      bool
	IsSuperuser  bool
	IsActive     bool
	CreatedAt    time.Time
}

// Token is an API token owned by a user.
type Token struct {
	Key      string
	Username string
}

// Group is a named set of users.
type Group struct {
	Name    string
	Members []string
}

// Tag labels objects in the application.
type Tag struct {
	Name     string
	Slug     string
	Color    string
	Comments string
}

// Storage holds the records seeded by the startup scripts.
type Storage interface {
	HasUser(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, user User) error
	CreateToken(ctx context.Context, token Token) error
	GetOrCreateGroup(ctx context.Context, name string) (Group, bool, error)
	AddGroupMember(ctx context.Context, group, username string) error
	GetOrCreateTag(ctx context.Context, tag Tag) (Tag, bool, error)
	Users(ctx context.Context) ([]User, error)
	Groups(ctx context.Context) ([]Group, error)
	Tags(ctx context.Context) ([]Tag, error)
	Close() error
}

// MemoryStorage keeps records in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu     sync.RWMutex
	users  map[string]User
	tokens map[string]Token
	groups map[string]*Group
	tags   map[string]Tag
	closed bool
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:  make(map[string]User),
		tokens: make(map[string]Token),
		groups: make(map[string]*Group),
		tags:   make(map[string]Tag),
	}
}

func (s *MemoryStorage) HasUser(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.users[username]
	return ok, nil
}

func (s *MemoryStorage) CreateUser(_ context.Context, user User) error {
	if strings.TrimSpace(user.Username) == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.users[user.Username]; ok {
		return ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *MemoryStorage) CreateToken(_ context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.users[token.Username]; !ok {
		return ErrUserNotFound
	}
	s.tokens[token.Key] = token
	return nil
}

func (s *MemoryStorage) GetOrCreateGroup(_ context.Context, name string) (Group, bool, error) {
	if strings.TrimSpace(name) == "" {
		return Group{}, false, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Group{}, false, ErrClosed
	}
	if g, ok := s.groups[name]; ok {
		return cloneGroup(g), false, nil
	}
	g := &Group{Name: name}
	s.groups[name] = g
	return cloneGroup(g), true, nil
}

func (s *MemoryStorage) AddGroupMember(_ context.Context, group, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	g, ok := s.groups[group]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := s.users[username]; !ok {
		return ErrUserNotFound
	}
	if !slices.Contains(g.Members, username) {
		g.Members = append(g.Members, username)
		sort.Strings(g.Members)
	}
	return nil
}

func (s *MemoryStorage) GetOrCreateTag(_ context.Context, tag Tag) (Tag, bool, error) {
	if strings.TrimSpace(tag.Name) == "" {
		return Tag{}, false, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Tag{}, false, ErrClosed
	}
	if existing, ok := s.tags[tag.Name]; ok {
		return existing, false, nil
	}
	s.tags[tag.Name] = tag
	return tag, true, nil
}

// Users returns all users sorted by username.
func (s *MemoryStorage) Users(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Groups returns all groups sorted by name.
func (s *MemoryStorage) Groups(_ context.Context) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, cloneGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Tags returns all tags sorted by name.
func (s *MemoryStorage) Tags(_ context.Context) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Tag, 0, len(s.tags))
	for _, t := range s.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Token returns the token with the given key.
func (s *MemoryStorage) Token(key string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[key]
	return t, ok
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneGroup(g *Group) Group {
	return Group{Name: g.Name, Members: slices.Clone(g.Members)}
}
