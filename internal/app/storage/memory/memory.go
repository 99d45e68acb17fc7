// Package memory is a thread-safe in-memory persistence layer implementing
// the storage interfaces. It is intended for tests and prototyping and
// deliberately keeps the implementation simple.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sgizm/experiment-server/internal/app/domain/application"
	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
	"github.com/sgizm/experiment-server/internal/app/storage"
)

// Store holds all entities in maps guarded by a single RW mutex. Listing
// methods return entities in id order, matching the relational store's
// ORDER BY id iteration order.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	applications map[int64]application.Application
	configKeys   map[int64]application.ConfigurationKey
	rangeConstr  map[int64]constraint.RangeConstraint
	exclConstr   map[int64]constraint.ExclusionConstraint
	experiments  map[int64]experiment.Experiment
	groups       map[int64]experiment.Group
	members      map[int64][]int64 // group id -> user ids in append order
	configs      map[int64]experiment.Configuration
	users        map[int64]user.User
	dataItems    map[int64]user.DataItem
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.ConfigurationKeyStore = (*Store)(nil)
var _ storage.ConstraintStore = (*Store)(nil)
var _ storage.ExperimentStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:       1,
		applications: make(map[int64]application.Application),
		configKeys:   make(map[int64]application.ConfigurationKey),
		rangeConstr:  make(map[int64]constraint.RangeConstraint),
		exclConstr:   make(map[int64]constraint.ExclusionConstraint),
		experiments:  make(map[int64]experiment.Experiment),
		groups:       make(map[int64]experiment.Group),
		members:      make(map[int64][]int64),
		configs:      make(map[int64]experiment.Configuration),
		users:        make(map[int64]user.User),
		dataItems:    make(map[int64]user.DataItem),
	}
}

func (s *Store) nextIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, storage.ErrNotFound)
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == 0 {
		app.ID = s.nextIDLocked()
	} else if _, exists := s.applications[app.ID]; exists {
		return application.Application{}, fmt.Errorf("application %d already exists", app.ID)
	}
	s.applications[app.ID] = app
	return app, nil
}

func (s *Store) GetApplication(_ context.Context, id int64) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, notFound("application", id)
	}
	return app, nil
}

func (s *Store) ListApplications(_ context.Context) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]application.Application, 0, len(s.applications))
	for _, app := range s.applications {
		result = append(result, app)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteApplication(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applications[id]; !ok {
		return notFound("application", id)
	}
	delete(s.applications, id)
	for ckID, ck := range s.configKeys {
		if ck.ApplicationID == id {
			s.deleteConfigurationKeyLocked(ckID)
		}
	}
	return nil
}

// ConfigurationKeyStore implementation ----------------------------------------

func (s *Store) CreateConfigurationKey(_ context.Context, ck application.ConfigurationKey) (application.ConfigurationKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applications[ck.ApplicationID]; !ok {
		return application.ConfigurationKey{}, notFound("application", ck.ApplicationID)
	}
	if ck.ID == 0 {
		ck.ID = s.nextIDLocked()
	} else if _, exists := s.configKeys[ck.ID]; exists {
		return application.ConfigurationKey{}, fmt.Errorf("configuration key %d already exists", ck.ID)
	}
	s.configKeys[ck.ID] = ck
	return ck, nil
}

func (s *Store) GetConfigurationKey(_ context.Context, id int64) (application.ConfigurationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ck, ok := s.configKeys[id]
	if !ok {
		return application.ConfigurationKey{}, notFound("configuration key", id)
	}
	return ck, nil
}

func (s *Store) ListConfigurationKeys(_ context.Context, applicationID int64) ([]application.ConfigurationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]application.ConfigurationKey, 0)
	for _, ck := range s.configKeys {
		if ck.ApplicationID == applicationID {
			result = append(result, ck)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteConfigurationKey(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configKeys[id]; !ok {
		return notFound("configuration key", id)
	}
	s.deleteConfigurationKeyLocked(id)
	return nil
}

func (s *Store) deleteConfigurationKeyLocked(id int64) {
	delete(s.configKeys, id)
	for rcID, rc := range s.rangeConstr {
		if rc.ConfigurationKeyID == id {
			delete(s.rangeConstr, rcID)
		}
	}
	for ecID, ec := range s.exclConstr {
		if ec.FirstConfigurationKeyID == id || ec.SecondConfigurationKeyID == id {
			delete(s.exclConstr, ecID)
		}
	}
}

// ConstraintStore implementation ----------------------------------------------

func (s *Store) CreateRangeConstraint(_ context.Context, rc constraint.RangeConstraint) (constraint.RangeConstraint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configKeys[rc.ConfigurationKeyID]; !ok {
		return constraint.RangeConstraint{}, notFound("configuration key", rc.ConfigurationKeyID)
	}
	if rc.ID == 0 {
		rc.ID = s.nextIDLocked()
	} else if _, exists := s.rangeConstr[rc.ID]; exists {
		return constraint.RangeConstraint{}, fmt.Errorf("range constraint %d already exists", rc.ID)
	}
	rc.Value = cloneRaw(rc.Value)
	s.rangeConstr[rc.ID] = rc
	return rc, nil
}

func (s *Store) GetRangeConstraint(_ context.Context, id int64) (constraint.RangeConstraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rc, ok := s.rangeConstr[id]
	if !ok {
		return constraint.RangeConstraint{}, notFound("range constraint", id)
	}
	return rc, nil
}

func (s *Store) ListRangeConstraints(_ context.Context, configurationKeyID int64) ([]constraint.RangeConstraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]constraint.RangeConstraint, 0)
	for _, rc := range s.rangeConstr {
		if rc.ConfigurationKeyID == configurationKeyID {
			result = append(result, rc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteRangeConstraint(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rangeConstr[id]; !ok {
		return notFound("range constraint", id)
	}
	delete(s.rangeConstr, id)
	return nil
}

func (s *Store) CreateExclusionConstraint(_ context.Context, ec constraint.ExclusionConstraint) (constraint.ExclusionConstraint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configKeys[ec.FirstConfigurationKeyID]; !ok {
		return constraint.ExclusionConstraint{}, notFound("configuration key", ec.FirstConfigurationKeyID)
	}
	if _, ok := s.configKeys[ec.SecondConfigurationKeyID]; !ok {
		return constraint.ExclusionConstraint{}, notFound("configuration key", ec.SecondConfigurationKeyID)
	}
	if ec.ID == 0 {
		ec.ID = s.nextIDLocked()
	} else if _, exists := s.exclConstr[ec.ID]; exists {
		return constraint.ExclusionConstraint{}, fmt.Errorf("exclusion constraint %d already exists", ec.ID)
	}
	ec.FirstValueA = cloneRaw(ec.FirstValueA)
	ec.FirstValueB = cloneRaw(ec.FirstValueB)
	ec.SecondValueA = cloneRaw(ec.SecondValueA)
	ec.SecondValueB = cloneRaw(ec.SecondValueB)
	s.exclConstr[ec.ID] = ec
	return ec, nil
}

func (s *Store) GetExclusionConstraint(_ context.Context, id int64) (constraint.ExclusionConstraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ec, ok := s.exclConstr[id]
	if !ok {
		return constraint.ExclusionConstraint{}, notFound("exclusion constraint", id)
	}
	return ec, nil
}

func (s *Store) ListExclusionConstraints(_ context.Context, applicationID int64) ([]constraint.ExclusionConstraint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]constraint.ExclusionConstraint, 0)
	for _, ec := range s.exclConstr {
		ck, ok := s.configKeys[ec.FirstConfigurationKeyID]
		if ok && ck.ApplicationID == applicationID {
			result = append(result, ec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteExclusionConstraint(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exclConstr[id]; !ok {
		return notFound("exclusion constraint", id)
	}
	delete(s.exclConstr, id)
	return nil
}

// ExperimentStore implementation ----------------------------------------------

func (s *Store) CreateExperiment(_ context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp.ID == 0 {
		exp.ID = s.nextIDLocked()
	} else if _, exists := s.experiments[exp.ID]; exists {
		return experiment.Experiment{}, fmt.Errorf("experiment %d already exists", exp.ID)
	}

	groups := exp.Groups
	exp.Groups = nil
	s.experiments[exp.ID] = exp
	for _, g := range groups {
		g.ExperimentID = exp.ID
		if g.ID == 0 {
			g.ID = s.nextIDLocked()
		}
		g.UserIDs = nil
		s.groups[g.ID] = g
	}
	return s.experimentLocked(exp.ID)
}

func (s *Store) GetExperiment(_ context.Context, id int64) (experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.experimentLocked(id)
}

func (s *Store) ListExperiments(_ context.Context) ([]experiment.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.experiments))
	for id := range s.experiments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]experiment.Experiment, 0, len(ids))
	for _, id := range ids {
		exp, err := s.experimentLocked(id)
		if err != nil {
			return nil, err
		}
		result = append(result, exp)
	}
	return result, nil
}

// experimentLocked assembles an experiment with its group/member graph.
func (s *Store) experimentLocked(id int64) (experiment.Experiment, error) {
	exp, ok := s.experiments[id]
	if !ok {
		return experiment.Experiment{}, notFound("experiment", id)
	}

	exp.Groups = nil
	groupIDs := make([]int64, 0)
	for gid, g := range s.groups {
		if g.ExperimentID == id {
			groupIDs = append(groupIDs, gid)
		}
	}
	sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })
	for _, gid := range groupIDs {
		g := s.groups[gid]
		g.UserIDs = append([]int64(nil), s.members[gid]...)
		exp.Groups = append(exp.Groups, g)
	}
	return exp, nil
}

func (s *Store) DeleteExperiment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[id]; !ok {
		return notFound("experiment", id)
	}
	delete(s.experiments, id)
	for gid, g := range s.groups {
		if g.ExperimentID == id {
			s.deleteGroupLocked(gid)
		}
	}
	return nil
}

func (s *Store) CreateExperimentGroup(_ context.Context, g experiment.Group) (experiment.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[g.ExperimentID]; !ok {
		return experiment.Group{}, notFound("experiment", g.ExperimentID)
	}
	if g.ID == 0 {
		g.ID = s.nextIDLocked()
	} else if _, exists := s.groups[g.ID]; exists {
		return experiment.Group{}, fmt.Errorf("experiment group %d already exists", g.ID)
	}
	g.UserIDs = nil
	s.groups[g.ID] = g
	return g, nil
}

func (s *Store) GetExperimentGroup(_ context.Context, id int64) (experiment.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return experiment.Group{}, notFound("experiment group", id)
	}
	g.UserIDs = append([]int64(nil), s.members[id]...)
	return g, nil
}

func (s *Store) DeleteExperimentGroup(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return notFound("experiment group", id)
	}
	s.deleteGroupLocked(id)
	return nil
}

func (s *Store) deleteGroupLocked(id int64) {
	delete(s.groups, id)
	delete(s.members, id)
	for cid, c := range s.configs {
		if c.ExperimentGroupID == id {
			delete(s.configs, cid)
		}
	}
}

func (s *Store) AddUserToGroup(_ context.Context, userID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return notFound("user", userID)
	}
	if _, ok := s.groups[groupID]; !ok {
		return notFound("experiment group", groupID)
	}
	for _, id := range s.members[groupID] {
		if id == userID {
			return nil
		}
	}
	s.members[groupID] = append(s.members[groupID], userID)
	return nil
}

func (s *Store) GroupsForUser(_ context.Context, userID int64) ([]experiment.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]experiment.Group, 0)
	for gid, userIDs := range s.members {
		for _, id := range userIDs {
			if id == userID {
				g := s.groups[gid]
				g.UserIDs = append([]int64(nil), userIDs...)
				result = append(result, g)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateConfiguration(_ context.Context, c experiment.Configuration) (experiment.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[c.ExperimentGroupID]; !ok {
		return experiment.Configuration{}, notFound("experiment group", c.ExperimentGroupID)
	}
	if c.ID == 0 {
		c.ID = s.nextIDLocked()
	} else if _, exists := s.configs[c.ID]; exists {
		return experiment.Configuration{}, fmt.Errorf("configuration %d already exists", c.ID)
	}
	c.Value = cloneRaw(c.Value)
	s.configs[c.ID] = c
	return c, nil
}

func (s *Store) ListConfigurations(_ context.Context, groupID int64) ([]experiment.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]experiment.Configuration, 0)
	for _, c := range s.configs {
		if c.ExperimentGroupID == groupID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return user.User{}, fmt.Errorf("user %q already exists", u.Username)
		}
	}
	if u.ID == 0 {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %d already exists", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user %q: %w", username, storage.ErrNotFound)
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	for itemID, item := range s.dataItems {
		if item.UserID == id {
			delete(s.dataItems, itemID)
		}
	}
	for gid, userIDs := range s.members {
		kept := userIDs[:0]
		for _, uid := range userIDs {
			if uid != id {
				kept = append(kept, uid)
			}
		}
		s.members[gid] = kept
	}
	return nil
}

func (s *Store) CreateDataItem(_ context.Context, item user.DataItem) (user.DataItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[item.UserID]; !ok {
		return user.DataItem{}, notFound("user", item.UserID)
	}
	if item.ID == 0 {
		item.ID = s.nextIDLocked()
	} else if _, exists := s.dataItems[item.ID]; exists {
		return user.DataItem{}, fmt.Errorf("data item %d already exists", item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.dataItems[item.ID] = item
	return item, nil
}

func (s *Store) ListDataItems(_ context.Context, userID int64) ([]user.DataItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.DataItem, 0)
	for _, item := range s.dataItems {
		if item.UserID == userID {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func cloneRaw(raw []byte) []byte {
	if raw == nil {
		return nil
	}
	return append([]byte(nil), raw...)
}
