// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sgizm/experiment-server/internal/app/domain/application"
	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
	"github.com/sgizm/experiment-server/internal/app/storage"
)

// Store implements the storage interfaces over a database handle. Row
// misses map to storage.ErrNotFound; cascades are delegated to the schema's
// foreign keys.
type Store struct {
	db *sql.DB
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.ConfigurationKeyStore = (*Store)(nil)
var _ storage.ConstraintStore = (*Store)(nil)
var _ storage.ExperimentStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func notFound(kind string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", kind, storage.ErrNotFound)
	}
	return err
}

// --- ApplicationStore -------------------------------------------------------

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (name)
		VALUES ($1)
		RETURNING id
	`, app.Name).Scan(&app.ID)
	if err != nil {
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (application.Application, error) {
	var app application.Application
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM applications WHERE id = $1
	`, id).Scan(&app.ID, &app.Name)
	if err != nil {
		return application.Application{}, notFound("application", err)
	}
	return app, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]application.Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM applications ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]application.Application, 0)
	for rows.Next() {
		var app application.Application
		if err := rows.Scan(&app.ID, &app.Name); err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM applications WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("application: %w", storage.ErrNotFound)
	}
	return nil
}

// --- ConfigurationKeyStore --------------------------------------------------

func (s *Store) CreateConfigurationKey(ctx context.Context, ck application.ConfigurationKey) (application.ConfigurationKey, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO configurationkeys (application_id, name, type)
		VALUES ($1, $2, $3)
		RETURNING id
	`, ck.ApplicationID, ck.Name, ck.Type).Scan(&ck.ID)
	if err != nil {
		return application.ConfigurationKey{}, err
	}
	return ck, nil
}

func (s *Store) GetConfigurationKey(ctx context.Context, id int64) (application.ConfigurationKey, error) {
	var ck application.ConfigurationKey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, application_id, name, type FROM configurationkeys WHERE id = $1
	`, id).Scan(&ck.ID, &ck.ApplicationID, &ck.Name, &ck.Type)
	if err != nil {
		return application.ConfigurationKey{}, notFound("configuration key", err)
	}
	return ck, nil
}

func (s *Store) ListConfigurationKeys(ctx context.Context, applicationID int64) ([]application.ConfigurationKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, name, type
		FROM configurationkeys
		WHERE application_id = $1
		ORDER BY id
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]application.ConfigurationKey, 0)
	for rows.Next() {
		var ck application.ConfigurationKey
		if err := rows.Scan(&ck.ID, &ck.ApplicationID, &ck.Name, &ck.Type); err != nil {
			return nil, err
		}
		result = append(result, ck)
	}
	return result, rows.Err()
}

func (s *Store) DeleteConfigurationKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM configurationkeys WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("configuration key: %w", storage.ErrNotFound)
	}
	return nil
}

// --- ConstraintStore --------------------------------------------------------

func (s *Store) CreateRangeConstraint(ctx context.Context, rc constraint.RangeConstraint) (constraint.RangeConstraint, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rangeconstraints (configurationkey_id, operator_id, value)
		VALUES ($1, $2, $3)
		RETURNING id
	`, rc.ConfigurationKeyID, rc.OperatorID, []byte(rc.Value)).Scan(&rc.ID)
	if err != nil {
		return constraint.RangeConstraint{}, err
	}
	return rc, nil
}

func (s *Store) GetRangeConstraint(ctx context.Context, id int64) (constraint.RangeConstraint, error) {
	var (
		rc  constraint.RangeConstraint
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, configurationkey_id, operator_id, value
		FROM rangeconstraints
		WHERE id = $1
	`, id).Scan(&rc.ID, &rc.ConfigurationKeyID, &rc.OperatorID, &raw)
	if err != nil {
		return constraint.RangeConstraint{}, notFound("range constraint", err)
	}
	rc.Value = raw
	return rc, nil
}

func (s *Store) ListRangeConstraints(ctx context.Context, configurationKeyID int64) ([]constraint.RangeConstraint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, configurationkey_id, operator_id, value
		FROM rangeconstraints
		WHERE configurationkey_id = $1
		ORDER BY id
	`, configurationKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]constraint.RangeConstraint, 0)
	for rows.Next() {
		var (
			rc  constraint.RangeConstraint
			raw []byte
		)
		if err := rows.Scan(&rc.ID, &rc.ConfigurationKeyID, &rc.OperatorID, &raw); err != nil {
			return nil, err
		}
		rc.Value = raw
		result = append(result, rc)
	}
	return result, rows.Err()
}

func (s *Store) DeleteRangeConstraint(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rangeconstraints WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("range constraint: %w", storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateExclusionConstraint(ctx context.Context, ec constraint.ExclusionConstraint) (constraint.ExclusionConstraint, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exclusionconstraints (
			first_configurationkey_id, first_operator_id, first_value_a, first_value_b,
			second_configurationkey_id, second_operator_id, second_value_a, second_value_b
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, ec.FirstConfigurationKeyID, ec.FirstOperatorID, []byte(ec.FirstValueA), []byte(ec.FirstValueB),
		ec.SecondConfigurationKeyID, ec.SecondOperatorID, []byte(ec.SecondValueA), []byte(ec.SecondValueB)).Scan(&ec.ID)
	if err != nil {
		return constraint.ExclusionConstraint{}, err
	}
	return ec, nil
}

func scanExclusionConstraint(scan func(...interface{}) error) (constraint.ExclusionConstraint, error) {
	var (
		ec             constraint.ExclusionConstraint
		fa, fb, sa, sb []byte
	)
	if err := scan(&ec.ID,
		&ec.FirstConfigurationKeyID, &ec.FirstOperatorID, &fa, &fb,
		&ec.SecondConfigurationKeyID, &ec.SecondOperatorID, &sa, &sb); err != nil {
		return constraint.ExclusionConstraint{}, err
	}
	ec.FirstValueA, ec.FirstValueB = fa, fb
	ec.SecondValueA, ec.SecondValueB = sa, sb
	return ec, nil
}

func (s *Store) GetExclusionConstraint(ctx context.Context, id int64) (constraint.ExclusionConstraint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id,
			first_configurationkey_id, first_operator_id, first_value_a, first_value_b,
			second_configurationkey_id, second_operator_id, second_value_a, second_value_b
		FROM exclusionconstraints
		WHERE id = $1
	`, id)
	ec, err := scanExclusionConstraint(row.Scan)
	if err != nil {
		return constraint.ExclusionConstraint{}, notFound("exclusion constraint", err)
	}
	return ec, nil
}

func (s *Store) ListExclusionConstraints(ctx context.Context, applicationID int64) ([]constraint.ExclusionConstraint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ec.id,
			ec.first_configurationkey_id, ec.first_operator_id, ec.first_value_a, ec.first_value_b,
			ec.second_configurationkey_id, ec.second_operator_id, ec.second_value_a, ec.second_value_b
		FROM exclusionconstraints ec
		JOIN configurationkeys ck ON ck.id = ec.first_configurationkey_id
		WHERE ck.application_id = $1
		ORDER BY ec.id
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]constraint.ExclusionConstraint, 0)
	for rows.Next() {
		ec, err := scanExclusionConstraint(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, ec)
	}
	return result, rows.Err()
}

func (s *Store) DeleteExclusionConstraint(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM exclusionconstraints WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("exclusion constraint: %w", storage.ErrNotFound)
	}
	return nil
}

// --- ExperimentStore --------------------------------------------------------

func (s *Store) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO experiments (name)
		VALUES ($1)
		RETURNING id
	`, exp.Name).Scan(&exp.ID)
	if err != nil {
		return experiment.Experiment{}, err
	}
	exp.Groups = nil
	return exp, nil
}

func (s *Store) GetExperiment(ctx context.Context, id int64) (experiment.Experiment, error) {
	var exp experiment.Experiment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name FROM experiments WHERE id = $1
	`, id).Scan(&exp.ID, &exp.Name)
	if err != nil {
		return experiment.Experiment{}, notFound("experiment", err)
	}
	groups, err := s.groupsOfExperiment(ctx, id)
	if err != nil {
		return experiment.Experiment{}, err
	}
	exp.Groups = groups
	return exp, nil
}

func (s *Store) ListExperiments(ctx context.Context) ([]experiment.Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM experiments ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]experiment.Experiment, 0)
	for rows.Next() {
		var exp experiment.Experiment
		if err := rows.Scan(&exp.ID, &exp.Name); err != nil {
			return nil, err
		}
		result = append(result, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		groups, err := s.groupsOfExperiment(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Groups = groups
	}
	return result, nil
}

func (s *Store) groupsOfExperiment(ctx context.Context, experimentID int64) ([]experiment.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, name
		FROM experimentgroups
		WHERE experiment_id = $1
		ORDER BY id
	`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]experiment.Group, 0)
	for rows.Next() {
		var g experiment.Group
		if err := rows.Scan(&g.ID, &g.ExperimentID, &g.Name); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		members, err := s.groupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].UserIDs = members
	}
	return groups, nil
}

func (s *Store) groupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id
		FROM experimentgroup_users
		WHERE experimentgroup_id = $1
		ORDER BY user_id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *Store) DeleteExperiment(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM experiments WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("experiment: %w", storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateExperimentGroup(ctx context.Context, g experiment.Group) (experiment.Group, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO experimentgroups (experiment_id, name)
		VALUES ($1, $2)
		RETURNING id
	`, g.ExperimentID, g.Name).Scan(&g.ID)
	if err != nil {
		return experiment.Group{}, err
	}
	g.UserIDs = nil
	return g, nil
}

func (s *Store) GetExperimentGroup(ctx context.Context, id int64) (experiment.Group, error) {
	var g experiment.Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, experiment_id, name FROM experimentgroups WHERE id = $1
	`, id).Scan(&g.ID, &g.ExperimentID, &g.Name)
	if err != nil {
		return experiment.Group{}, notFound("experiment group", err)
	}
	members, err := s.groupMembers(ctx, id)
	if err != nil {
		return experiment.Group{}, err
	}
	g.UserIDs = members
	return g, nil
}

func (s *Store) DeleteExperimentGroup(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM experimentgroups WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("experiment group: %w", storage.ErrNotFound)
	}
	return nil
}

// AddUserToGroup appends the membership pair. The pair is the table's
// primary key, so a concurrent duplicate insert collapses to a no-op.
func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experimentgroup_users (user_id, experimentgroup_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, experimentgroup_id) DO NOTHING
	`, userID, groupID)
	return err
}

func (s *Store) GroupsForUser(ctx context.Context, userID int64) ([]experiment.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.experiment_id, g.name
		FROM experimentgroups g
		JOIN experimentgroup_users gu ON gu.experimentgroup_id = g.id
		WHERE gu.user_id = $1
		ORDER BY g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]experiment.Group, 0)
	for rows.Next() {
		var g experiment.Group
		if err := rows.Scan(&g.ID, &g.ExperimentID, &g.Name); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		members, err := s.groupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].UserIDs = members
	}
	return groups, nil
}

func (s *Store) CreateConfiguration(ctx context.Context, c experiment.Configuration) (experiment.Configuration, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO configurations (experimentgroup_id, key, value)
		VALUES ($1, $2, $3)
		RETURNING id
	`, c.ExperimentGroupID, c.Key, []byte(c.Value)).Scan(&c.ID)
	if err != nil {
		return experiment.Configuration{}, err
	}
	return c, nil
}

func (s *Store) ListConfigurations(ctx context.Context, groupID int64) ([]experiment.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experimentgroup_id, key, value
		FROM configurations
		WHERE experimentgroup_id = $1
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]experiment.Configuration, 0)
	for rows.Next() {
		var (
			c   experiment.Configuration
			raw []byte
		)
		if err := rows.Scan(&c.ID, &c.ExperimentGroupID, &c.Key, &raw); err != nil {
			return nil, err
		}
		c.Value = raw
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, u.Username, u.PasswordHash, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (user.User, error) {
	var u user.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return user.User{}, notFound("user", err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	var u user.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return user.User{}, notFound("user", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]user.User, 0)
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("user: %w", storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateDataItem(ctx context.Context, item user.DataItem) (user.DataItem, error) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO dataitems (user_id, value, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, item.UserID, item.Value, item.CreatedAt).Scan(&item.ID)
	if err != nil {
		return user.DataItem{}, err
	}
	return item, nil
}

func (s *Store) ListDataItems(ctx context.Context, userID int64) ([]user.DataItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, value, created_at
		FROM dataitems
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]user.DataItem, 0)
	for rows.Next() {
		var item user.DataItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.Value, &item.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
