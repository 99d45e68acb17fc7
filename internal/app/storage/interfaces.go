// Package storage defines the persistence interfaces mediating every read
// and write the domain services perform, isolating them from storage details.
package storage

import (
	"context"
	"errors"

	"github.com/sgizm/experiment-server/internal/app/domain/application"
	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
)

// ErrNotFound is returned when a requested id does not exist in storage.
// Implementations wrap it so callers can test with errors.Is.
var ErrNotFound = errors.New("not found")

// ApplicationStore persists applications.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	GetApplication(ctx context.Context, id int64) (application.Application, error)
	ListApplications(ctx context.Context) ([]application.Application, error)
	DeleteApplication(ctx context.Context, id int64) error
}

// ConfigurationKeyStore persists configuration keys.
type ConfigurationKeyStore interface {
	CreateConfigurationKey(ctx context.Context, ck application.ConfigurationKey) (application.ConfigurationKey, error)
	GetConfigurationKey(ctx context.Context, id int64) (application.ConfigurationKey, error)
	ListConfigurationKeys(ctx context.Context, applicationID int64) ([]application.ConfigurationKey, error)
	DeleteConfigurationKey(ctx context.Context, id int64) error
}

// ConstraintStore persists range and exclusion constraints.
type ConstraintStore interface {
	CreateRangeConstraint(ctx context.Context, rc constraint.RangeConstraint) (constraint.RangeConstraint, error)
	GetRangeConstraint(ctx context.Context, id int64) (constraint.RangeConstraint, error)
	ListRangeConstraints(ctx context.Context, configurationKeyID int64) ([]constraint.RangeConstraint, error)
	DeleteRangeConstraint(ctx context.Context, id int64) error

	CreateExclusionConstraint(ctx context.Context, ec constraint.ExclusionConstraint) (constraint.ExclusionConstraint, error)
	GetExclusionConstraint(ctx context.Context, id int64) (constraint.ExclusionConstraint, error)
	ListExclusionConstraints(ctx context.Context, applicationID int64) ([]constraint.ExclusionConstraint, error)
	DeleteExclusionConstraint(ctx context.Context, id int64) error
}

// ExperimentStore persists experiments, their groups, group membership and
// group configurations. Experiments load with their full group/member graph
// in storage iteration order.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error)
	GetExperiment(ctx context.Context, id int64) (experiment.Experiment, error)
	ListExperiments(ctx context.Context) ([]experiment.Experiment, error)
	DeleteExperiment(ctx context.Context, id int64) error

	CreateExperimentGroup(ctx context.Context, g experiment.Group) (experiment.Group, error)
	GetExperimentGroup(ctx context.Context, id int64) (experiment.Group, error)
	DeleteExperimentGroup(ctx context.Context, id int64) error

	// AddUserToGroup appends the user to the group's membership. The
	// (user, group) pair is unique; re-adding an existing member is a no-op.
	AddUserToGroup(ctx context.Context, userID, groupID int64) error
	GroupsForUser(ctx context.Context, userID int64) ([]experiment.Group, error)

	CreateConfiguration(ctx context.Context, c experiment.Configuration) (experiment.Configuration, error)
	ListConfigurations(ctx context.Context, groupID int64) ([]experiment.Configuration, error)
}

// UserStore persists users and their data items.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id int64) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id int64) error

	CreateDataItem(ctx context.Context, item user.DataItem) (user.DataItem, error)
	ListDataItems(ctx context.Context, userID int64) ([]user.DataItem, error)
}
