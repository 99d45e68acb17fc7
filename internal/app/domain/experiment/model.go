// Package experiment defines experiments, their groups and the
// configurations delivered to group members.
package experiment

import "encoding/json"

// Experiment is a named experiment partitioned into groups. Loaded
// experiments carry their full group and membership graph.
type Experiment struct {
	ID     int64
	Name   string
	Groups []Group
}

// HasUser reports whether the user belongs to any group of the experiment.
func (e Experiment) HasUser(userID int64) bool {
	for _, g := range e.Groups {
		if g.HasUser(userID) {
			return true
		}
	}
	return false
}

// Group is one partition of an experiment. Users join at most once; the
// membership pair is unique.
type Group struct {
	ID           int64
	ExperimentID int64
	Name         string
	UserIDs      []int64
}

// HasUser reports whether the user is a member of the group.
func (g Group) HasUser(userID int64) bool {
	for _, id := range g.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Configuration is a key/value pair attached to a group and delivered to
// its members.
type Configuration struct {
	ID                int64
	ExperimentGroupID int64
	Key               string
	Value             json.RawMessage
}
