// Package app assembles the domain services over a set of stores.
package app

import (
	"github.com/sgizm/experiment-server/internal/app/services/applications"
	"github.com/sgizm/experiment-server/internal/app/services/assignment"
	"github.com/sgizm/experiment-server/internal/app/services/constraints"
	"github.com/sgizm/experiment-server/internal/app/services/experiments"
	"github.com/sgizm/experiment-server/internal/app/services/users"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/app/storage/memory"
	"github.com/sgizm/experiment-server/internal/logging"
)

// Stores is the persistence backing the application. Nil fields default to
// one shared in-memory store, which keeps tests and the no-database mode of
// the server trivial to set up.
type Stores struct {
	Applications      storage.ApplicationStore
	ConfigurationKeys storage.ConfigurationKeyStore
	Constraints       storage.ConstraintStore
	Experiments       storage.ExperimentStore
	Users             storage.UserStore
}

func (s *Stores) applyDefaults() {
	var shared *memory.Store
	fallback := func() *memory.Store {
		if shared == nil {
			shared = memory.New()
		}
		return shared
	}
	if s.Applications == nil {
		s.Applications = fallback()
	}
	if s.ConfigurationKeys == nil {
		s.ConfigurationKeys = fallback()
	}
	if s.Constraints == nil {
		s.Constraints = fallback()
	}
	if s.Experiments == nil {
		s.Experiments = fallback()
	}
	if s.Users == nil {
		s.Users = fallback()
	}
}

// Application bundles every domain service behind one constructor.
type Application struct {
	Applications *applications.Service
	Constraints  *constraints.Service
	Experiments  *experiments.Service
	Assignment   *assignment.Service
	Users        *users.Service

	Log *logging.Logger
}

// New wires the services over the given stores.
func New(stores Stores, log *logging.Logger, opts ...assignment.Option) *Application {
	if log == nil {
		log = logging.NewDefault("app")
	}
	stores.applyDefaults()
	return &Application{
		Applications: applications.New(stores.Applications, stores.ConfigurationKeys, log.WithComponent("applications")),
		Constraints:  constraints.New(stores.ConfigurationKeys, stores.Constraints, log.WithComponent("constraints")),
		Experiments:  experiments.New(stores.Experiments, log.WithComponent("experiments")),
		Assignment:   assignment.New(stores.Experiments, stores.Users, log.WithComponent("assignment"), opts...),
		Users:        users.New(stores.Users, stores.Experiments, log.WithComponent("users")),
		Log:          log,
	}
}
