package seed

import (
	"context"
	"crypto/rand"
	"fmt"
	"maps"
	"math/big"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eugenenazirov/peerconf/internal/scripts"
	"github.com/eugenenazirov/peerconf/internal/storage"
)

const (
	randomPasswordLength = 10
	// no easily confused characters
	passwordAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type userDetails struct {
	Password    string         `yaml:"password"`
	APIToken    string         `yaml:"api_token"`
	Email       string         `yaml:"email"`
	FirstName   string         `yaml:"first_name"`
	LastName    string         `yaml:"last_name"`
	IsStaff     bool           `yaml:"is_staff"`
	IsSuperuser bool           `yaml:"is_superuser"`
	IsActive    *bool          `yaml:"is_active"`
	Unknown     map[string]any `yaml:",inline"`
}

// Users creates every listed user that does not exist yet. Existing users are
// left untouched. A user without a password gets a random one.
func (s *Seeder) Users(ctx context.Context, unit *scripts.Unit) error {
	if unit.Empty() {
		return scripts.Exit(0)
	}
	var users map[string]*userDetails
	if err := unit.Decode(&users); err != nil {
		return err
	}

	for _, username := range slices.Sorted(maps.Keys(users)) {
		details := users[username]
		if details == nil {
			details = &userDetails{}
		}
		if len(details.Unknown) > 0 {
			return fmt.Errorf("user %q: unknown fields %v", username, slices.Sorted(maps.Keys(details.Unknown)))
		}

		exists, err := s.store.HasUser(ctx, username)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		password := details.Password
		if password == "" {
			if password, err = randomPassword(); err != nil {
				return err
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
		if err != nil {
			return fmt.Errorf("hash password for %q: %w", username, err)
		}

		active := true
		if details.IsActive != nil {
			active = *details.IsActive
		}
		err = s.store.CreateUser(ctx, storage.User{
			Username:     username,
			PasswordHash: string(hash),
			Email:        details.Email,
			FirstName:    details.FirstName,
			LastName:     details.LastName,
			IsStaff:      details.IsStaff,
			IsSuperuser:  details.IsSuperuser,
			IsActive:     active,
		})
		if err != nil {
			return fmt.Errorf("create user %q: %w", username, err)
		}
		s.logger.Info("created user", zap.String("username", username))

		if details.APIToken != "" {
			if err := s.store.CreateToken(ctx, storage.Token{Key: details.APIToken, Username: username}); err != nil {
				return fmt.Errorf("create token for %q: %w", username, err)
			}
		}
	}
	return nil
}

func randomPassword() (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, randomPasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
