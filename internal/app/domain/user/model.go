// Package user defines user accounts and the data items recorded for them.
package user

import "time"

// User is an end user identified by a unique username. The password is
// stored as a bcrypt digest, never in clear text.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// DataItem is one numeric data point reported by a user through the events
// endpoint.
type DataItem struct {
	ID        int64
	UserID    int64
	Value     float64
	CreatedAt time.Time
}
