// Package migrations applies the database schema at startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements run in order; each is idempotent so Apply can run on every
// startup.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS configurationkeys (
		id BIGSERIAL PRIMARY KEY,
		application_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL
	)`,
	`INSERT INTO operators (id, name, symbol) VALUES
		(1, 'equals', '='),
		(2, 'less than or equal to', '<='),
		(3, 'less than', '<'),
		(4, 'greater than or equal to', '>='),
		(5, 'greater than', '>'),
		(6, 'not equal to', '!=')
	ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS rangeconstraints (
		id BIGSERIAL PRIMARY KEY,
		configurationkey_id BIGINT NOT NULL REFERENCES configurationkeys(id) ON DELETE CASCADE,
		operator_id BIGINT NOT NULL REFERENCES operators(id),
		value JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exclusionconstraints (
		id BIGSERIAL PRIMARY KEY,
		first_configurationkey_id BIGINT NOT NULL REFERENCES configurationkeys(id) ON DELETE CASCADE,
		first_operator_id BIGINT NOT NULL REFERENCES operators(id),
		first_value_a JSONB,
		first_value_b JSONB,
		second_configurationkey_id BIGINT NOT NULL REFERENCES configurationkeys(id) ON DELETE CASCADE,
		second_operator_id BIGINT NOT NULL REFERENCES operators(id),
		second_value_a JSONB,
		second_value_b JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS experimentgroups (
		id BIGSERIAL PRIMARY KEY,
		experiment_id BIGINT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS experimentgroup_users (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		experimentgroup_id BIGINT NOT NULL REFERENCES experimentgroups(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, experimentgroup_id)
	)`,
	`CREATE TABLE IF NOT EXISTS dataitems (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		value DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS configurations (
		id BIGSERIAL PRIMARY KEY,
		experimentgroup_id BIGINT NOT NULL REFERENCES experimentgroups(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value JSONB
	)`,
}

// Apply executes the schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
