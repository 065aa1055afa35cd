package seed

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/eugenenazirov/peerconf/internal/scripts"
)

type groupDetails struct {
	Users []string `yaml:"users"`
}

// Groups creates missing groups and assigns the listed users. Every listed
// user must already exist.
func (s *Seeder) Groups(ctx context.Context, unit *scripts.Unit) error {
	if unit.Empty() {
		return scripts.Exit(0)
	}
	var groups map[string]*groupDetails
	if err := unit.Decode(&groups); err != nil {
		return err
	}

	for _, name := range slices.Sorted(maps.Keys(groups)) {
		_, created, err := s.store.GetOrCreateGroup(ctx, name)
		if err != nil {
			return fmt.Errorf("create group %q: %w", name, err)
		}
		if created {
			s.logger.Info("created group", zap.String("group", name))
		}

		details := groups[name]
		if details == nil {
			continue
		}
		for _, username := range details.Users {
			if err := s.store.AddGroupMember(ctx, name, username); err != nil {
				return fmt.Errorf("assign user %q to group %q: %w", username, name, err)
			}
			s.logger.Info("assigned user to group", zap.String("username", username), zap.String("group", name))
		}
	}
	return nil
}
