// Package seed implements the startup script kinds that create initial users,
// groups and tags.
package seed

import (
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eugenenazirov/peerconf/internal/scripts"
	"github.com/eugenenazirov/peerconf/internal/storage"
)

// Unit kinds handled by a Seeder.
const (
	KindUsers  = "users"
	KindGroups = "groups"
	KindTags   = "tags"
)

// Option configures a Seeder.
type Option func(*Seeder)

// WithLogger sets the logger used to report created records.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Seeder) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Seeder) {
		s.cost = cost
	}
}

// Seeder writes seeded records to a Storage.
type Seeder struct {
	store  storage.Storage
	logger *zap.Logger
	cost   int
}

// New creates a Seeder backed by store.
func New(store storage.Storage, opts ...Option) *Seeder {
	s := &Seeder{
		store:  store,
		logger: zap.NewNop(),
		cost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Options registers every seed kind with a scripts.Runner.
func (s *Seeder) Options() []scripts.Option {
	return []scripts.Option{
		scripts.WithHandler(KindUsers, scripts.HandlerFunc(s.Users)),
		scripts.WithHandler(KindGroups, scripts.HandlerFunc(s.Groups)),
		scripts.WithHandler(KindTags, scripts.HandlerFunc(s.Tags)),
	}
}
