// Package assignment computes experiment participation and performs the
// random group assignment users receive on first contact.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/crypto/bcrypt"

	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/logging"
	"github.com/sgizm/experiment-server/internal/metrics"
)

// ErrNoGroups is returned when an experiment has no groups to assign into.
var ErrNoGroups = errors.New("experiment has no groups")

// Participating returns, in input order, the experiments in which the user
// is a member of at least one group. An experiment appears at most once even
// if the user belongs to several of its groups.
func Participating(experiments []experiment.Experiment, userID int64) []experiment.Experiment {
	result := make([]experiment.Experiment, 0)
	for _, exp := range experiments {
		if exp.HasUser(userID) {
			result = append(result, exp)
		}
	}
	return result
}

// NonParticipating returns, in input order, the experiments in which the
// user is in no group. Computed by scanning every group of every experiment,
// not by set subtraction from Participating.
func NonParticipating(experiments []experiment.Experiment, userID int64) []experiment.Experiment {
	result := make([]experiment.Experiment, 0)
	for _, exp := range experiments {
		participates := false
		for _, g := range exp.Groups {
			if g.HasUser(userID) {
				participates = true
			}
		}
		if !participates {
			result = append(result, exp)
		}
	}
	return result
}

// Service orchestrates user creation and group assignment.
type Service struct {
	experiments storage.ExperimentStore
	users       storage.UserStore
	log         *logging.Logger
	pick        func(n int) int
}

// Option customizes the service.
type Option func(*Service)

// WithPicker overrides the uniform random index source. Tests use it to fix
// or observe the selection.
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) { s.pick = pick }
}

// New constructs the assignment service.
func New(experiments storage.ExperimentStore, users storage.UserStore, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewDefault("assignment")
	}
	s := &Service{
		experiments: experiments,
		users:       users,
		log:         log,
		pick:        rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PickGroup selects one group of the experiment uniformly at random. The
// caller is responsible for appending the user to the returned group's
// membership.
func (s *Service) PickGroup(exp experiment.Experiment) (experiment.Group, error) {
	if len(exp.Groups) == 0 {
		return experiment.Group{}, fmt.Errorf("experiment %d: %w", exp.ID, ErrNoGroups)
	}
	return exp.Groups[s.pick(len(exp.Groups))], nil
}

// EnsureUser returns the user with the given username, creating it with a
// bcrypt digest of the password when no such identity exists yet.
func (s *Service) EnsureUser(ctx context.Context, username, password string) (user.User, error) {
	existing, err := s.users.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.users.CreateUser(ctx, user.User{Username: username, PasswordHash: string(hash)})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithTrace(ctx).Infof("created user %d (%s)", created.ID, created.Username)
	return created, nil
}

// AssignToExperiments places the user into one uniformly chosen group of
// every experiment the user does not yet participate in, and returns the
// groups joined. Experiments without groups are skipped and reported in the
// log rather than failing the whole request. Duplicate concurrent
// assignments collapse at the storage layer, where the (user, group) pair
// is unique.
func (s *Service) AssignToExperiments(ctx context.Context, userID int64) ([]experiment.Group, error) {
	all, err := s.experiments.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}

	joined := make([]experiment.Group, 0)
	for _, exp := range NonParticipating(all, userID) {
		group, err := s.PickGroup(exp)
		if errors.Is(err, ErrNoGroups) {
			s.log.WithTrace(ctx).Warnf("experiment %d has no groups, skipping assignment", exp.ID)
			metrics.RecordAssignment("skipped")
			continue
		}
		if err != nil {
			return joined, err
		}
		if err := s.experiments.AddUserToGroup(ctx, userID, group.ID); err != nil {
			metrics.RecordAssignment("failed")
			return joined, fmt.Errorf("assign user %d to group %d: %w", userID, group.ID, err)
		}
		metrics.RecordAssignment("assigned")
		s.log.WithTrace(ctx).Infof("assigned user %d to group %d of experiment %d", userID, group.ID, exp.ID)
		joined = append(joined, group)
	}
	return joined, nil
}

// Participation splits the full experiment set into the experiments the
// user participates in and those they do not.
func (s *Service) Participation(ctx context.Context, userID int64) (in, out []experiment.Experiment, err error) {
	all, err := s.experiments.ListExperiments(ctx)
	if err != nil {
		return nil, nil, err
	}
	return Participating(all, userID), NonParticipating(all, userID), nil
}
