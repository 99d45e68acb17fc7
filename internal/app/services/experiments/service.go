// Package experiments manages experiments, their groups and the
// configurations delivered to group members.
package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/logging"
)

// ErrInvalidInput is returned when a create request fails validation.
var ErrInvalidInput = errors.New("invalid input")

// Service implements experiment and group management.
type Service struct {
	store storage.ExperimentStore
	log   *logging.Logger
}

// New constructs the service.
func New(store storage.ExperimentStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("experiments")
	}
	return &Service{store: store, log: log}
}

// CreateExperiment registers a new experiment with no groups.
func (s *Service) CreateExperiment(ctx context.Context, name string) (experiment.Experiment, error) {
	if strings.TrimSpace(name) == "" {
		return experiment.Experiment{}, fmt.Errorf("%w: experiment name is required", ErrInvalidInput)
	}
	exp, err := s.store.CreateExperiment(ctx, experiment.Experiment{Name: name})
	if err != nil {
		return experiment.Experiment{}, err
	}
	s.log.WithTrace(ctx).Infof("created experiment %d (%s)", exp.ID, exp.Name)
	return exp, nil
}

// GetExperiment returns one experiment with its full group and member graph.
func (s *Service) GetExperiment(ctx context.Context, id int64) (experiment.Experiment, error) {
	return s.store.GetExperiment(ctx, id)
}

// ListExperiments returns every experiment with groups and members loaded.
func (s *Service) ListExperiments(ctx context.Context) ([]experiment.Experiment, error) {
	return s.store.ListExperiments(ctx)
}

// DeleteExperiment removes an experiment, its groups, their memberships and
// configurations.
func (s *Service) DeleteExperiment(ctx context.Context, id int64) error {
	if err := s.store.DeleteExperiment(ctx, id); err != nil {
		return err
	}
	s.log.WithTrace(ctx).Infof("deleted experiment %d", id)
	return nil
}

// CreateGroup adds a group to the experiment.
func (s *Service) CreateGroup(ctx context.Context, experimentID int64, name string) (experiment.Group, error) {
	if strings.TrimSpace(name) == "" {
		return experiment.Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	if _, err := s.store.GetExperiment(ctx, experimentID); err != nil {
		return experiment.Group{}, err
	}
	g, err := s.store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: experimentID, Name: name})
	if err != nil {
		return experiment.Group{}, err
	}
	s.log.WithTrace(ctx).Infof("created group %d (%s) for experiment %d", g.ID, g.Name, experimentID)
	return g, nil
}

// DeleteGroup removes a group of the experiment. The group must belong to
// the experiment.
func (s *Service) DeleteGroup(ctx context.Context, experimentID, groupID int64) error {
	g, err := s.store.GetExperimentGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.ExperimentID != experimentID {
		return fmt.Errorf("group %d: %w", groupID, storage.ErrNotFound)
	}
	if err := s.store.DeleteExperimentGroup(ctx, groupID); err != nil {
		return err
	}
	s.log.WithTrace(ctx).Infof("deleted group %d of experiment %d", groupID, experimentID)
	return nil
}

// CreateConfiguration attaches a key/value pair to the group. Members of
// the group receive it from ConfigurationsForUser.
func (s *Service) CreateConfiguration(ctx context.Context, groupID int64, key string, value json.RawMessage) (experiment.Configuration, error) {
	if strings.TrimSpace(key) == "" {
		return experiment.Configuration{}, fmt.Errorf("%w: configuration key is required", ErrInvalidInput)
	}
	if _, err := s.store.GetExperimentGroup(ctx, groupID); err != nil {
		return experiment.Configuration{}, err
	}
	return s.store.CreateConfiguration(ctx, experiment.Configuration{
		ExperimentGroupID: groupID,
		Key:               key,
		Value:             value,
	})
}

// ConfigurationsForUser collects the configurations of every group the user
// belongs to, in storage order.
func (s *Service) ConfigurationsForUser(ctx context.Context, userID int64) ([]experiment.Configuration, error) {
	groups, err := s.store.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	configs := make([]experiment.Configuration, 0)
	for _, g := range groups {
		cs, err := s.store.ListConfigurations(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cs...)
	}
	return configs, nil
}
