// Package users manages user accounts, their recorded data items and the
// participation views exposed over the API.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/logging"
)

// ErrInvalidInput is returned when a request fails validation.
var ErrInvalidInput = errors.New("invalid input")

// Profile is the detail view of one user: the account, the data items
// recorded for it and the experiment groups it belongs to.
type Profile struct {
	User      user.User
	DataItems []user.DataItem
	Groups    []experiment.Group
}

// Service implements user management and event recording.
type Service struct {
	users       storage.UserStore
	experiments storage.ExperimentStore
	log         *logging.Logger
}

// New constructs the service.
func New(users storage.UserStore, experiments storage.ExperimentStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("users")
	}
	return &Service{users: users, experiments: experiments, log: log}
}

// GetUser returns one user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (user.User, error) {
	return s.users.GetUser(ctx, id)
}

// GetUserByUsername returns one user by username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.users.GetUserByUsername(ctx, username)
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.users.ListUsers(ctx)
}

// DeleteUser removes a user, its data items and its group memberships.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.WithTrace(ctx).Infof("deleted user %d", id)
	return nil
}

// GetProfile returns the detail view of one user.
func (s *Service) GetProfile(ctx context.Context, id int64) (Profile, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	items, err := s.users.ListDataItems(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	groups, err := s.experiments.GroupsForUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, DataItems: items, Groups: groups}, nil
}

// ExperimentsForUser partitions the experiment set by the user's
// participation.
func (s *Service) ExperimentsForUser(ctx context.Context, id int64) (participating, nonParticipating []experiment.Experiment, err error) {
	if _, err := s.users.GetUser(ctx, id); err != nil {
		return nil, nil, err
	}
	all, err := s.experiments.ListExperiments(ctx)
	if err != nil {
		return nil, nil, err
	}
	in := make([]experiment.Experiment, 0)
	out := make([]experiment.Experiment, 0)
	for _, exp := range all {
		if exp.HasUser(id) {
			in = append(in, exp)
		} else {
			out = append(out, exp)
		}
	}
	return in, out, nil
}

// RecordEvent stores a data point reported by the named user.
func (s *Service) RecordEvent(ctx context.Context, username string, value float64) (user.DataItem, error) {
	if strings.TrimSpace(username) == "" {
		return user.DataItem{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return user.DataItem{}, err
	}
	item, err := s.users.CreateDataItem(ctx, user.DataItem{UserID: u.ID, Value: value})
	if err != nil {
		return user.DataItem{}, err
	}
	s.log.WithTrace(ctx).Infof("recorded data item %d for user %d", item.ID, u.ID)
	return item, nil
}
