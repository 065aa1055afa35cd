package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	is_staff INTEGER NOT NULL DEFAULT 0,
	is_superuser INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	token_key TEXT PRIMARY KEY,
	username TEXT NOT NULL REFERENCES users(username)
);
CREATE TABLE IF NOT EXISTS user_groups (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS group_members (
	group_name TEXT NOT NULL REFERENCES user_groups(name),
	username TEXT NOT NULL REFERENCES users(username),
	PRIMARY KEY (group_name, username)
);
CREATE TABLE IF NOT EXISTS tags (
	name TEXT PRIMARY KEY,
	slug TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	comments TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStorage persists seeded records to SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStorage opens (or creates) the database at path. Use ":memory:"
// for tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection keeps ":memory:" databases consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) HasUser(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n); err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, user User) error {
	if strings.TrimSpace(user.Username) == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, first_name, last_name, is_staff, is_superuser, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`, user.Username, user.PasswordHash, user.Email, user.FirstName, user.LastName,
		user.IsStaff, user.IsSuperuser, user.IsActive, user.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserExists
	}
	return nil
}

func (s *SQLiteStorage) CreateToken(ctx context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.userExists(ctx, token.Username) {
		return ErrUserNotFound
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token_key, username) VALUES (?, ?)
		ON CONFLICT(token_key) DO UPDATE SET username = excluded.username
	`, token.Key, token.Username); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetOrCreateGroup(ctx context.Context, name string) (Group, bool, error) {
	if strings.TrimSpace(name) == "" {
		return Group{}, false, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Group{}, false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO user_groups (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return Group{}, false, fmt.Errorf("insert group: %w", err)
	}
	created := false
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}
	members, err := s.members(ctx, name)
	if err != nil {
		return Group{}, false, err
	}
	return Group{Name: name, Members: members}, created, nil
}

func (s *SQLiteStorage) AddGroupMember(ctx context.Context, group, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_groups WHERE name = ?`, group).Scan(&n); err != nil {
		return fmt.Errorf("query group: %w", err)
	}
	if n == 0 {
		return ErrGroupNotFound
	}
	if !s.userExists(ctx, username) {
		return ErrUserNotFound
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_name, username) VALUES (?, ?)
		ON CONFLICT(group_name, username) DO NOTHING
	`, group, username); err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetOrCreateTag(ctx context.Context, tag Tag) (Tag, bool, error) {
	if strings.TrimSpace(tag.Name) == "" {
		return Tag{}, false, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Tag{}, false, ErrClosed
	}
	var existing Tag
	err := s.db.QueryRowContext(ctx, `SELECT name, slug, color, comments FROM tags WHERE name = ?`, tag.Name).
		Scan(&existing.Name, &existing.Slug, &existing.Color, &existing.Comments)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Tag{}, false, fmt.Errorf("query tag: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO tags (name, slug, color, comments) VALUES (?, ?, ?, ?)`,
		tag.Name, tag.Slug, tag.Color, tag.Comments); err != nil {
		return Tag{}, false, fmt.Errorf("insert tag: %w", err)
	}
	return tag, true, nil
}

func (s *SQLiteStorage) Users(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, email, first_name, last_name, is_staff, is_superuser, is_active, created_at
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u       User
			created string
		)
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Email, &u.FirstName, &u.LastName,
			&u.IsStaff, &u.IsSuperuser, &u.IsActive, &created); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Groups(ctx context.Context) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM user_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Group, 0, len(names))
	for _, name := range names {
		members, err := s.members(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Group{Name: name, Members: members})
	}
	return out, nil
}

func (s *SQLiteStorage) Tags(ctx context.Context) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, slug, color, comments FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Name, &t.Slug, &t.Color, &t.Comments); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStorage) userExists(ctx context.Context, username string) bool {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

func (s *SQLiteStorage) members(ctx context.Context, group string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM group_members WHERE group_name = ? ORDER BY username`, group)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, name)
	}
	return members, rows.Err()
}
