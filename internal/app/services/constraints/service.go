// Package constraints implements range constraint validation and the
// constraint CRUD operations, including the ownership checks that guard
// deletion.
package constraints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/logging"
	"github.com/sgizm/experiment-server/internal/metrics"
)

// ErrInvalidConstraint marks a proposed range constraint that failed
// validation.
var ErrInvalidConstraint = errors.New("invalid range constraint")

// ErrNotOwned marks a delete whose ownership chain
// (application -> configuration key -> constraint) does not hold.
var ErrNotOwned = errors.New("constraint ownership violation")

// ValidValue reports whether the constraint's value classifies as an integer
// or a floating-point number. No other scalar kind is admissible.
func ValidValue(rc constraint.RangeConstraint) bool {
	return constraint.IsNumeric(rc.Value)
}

// ValidOperator reports whether the constraint's operator id is within the
// reference range [1,6].
func ValidOperator(rc constraint.RangeConstraint) bool {
	return constraint.Operator(rc.OperatorID).Valid()
}

// Service validates and persists constraints.
type Service struct {
	keys  storage.ConfigurationKeyStore
	store storage.ConstraintStore
	log   *logging.Logger
}

// New constructs the constraints service.
func New(keys storage.ConfigurationKeyStore, store storage.ConstraintStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("constraints")
	}
	return &Service{keys: keys, store: store, log: log}
}

// KeyBelongsToApp reports whether the configuration key exists and belongs
// to the given application. A missing key is a clean false; other storage
// failures propagate.
func (s *Service) KeyBelongsToApp(ctx context.Context, appID, configKeyID int64) (bool, error) {
	ck, err := s.keys.GetConfigurationKey(ctx, configKeyID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ck.ApplicationID == appID, nil
}

// Validate is the single entry point used before persisting a range
// constraint: key ownership, then value kind, then operator range, short
// circuiting on the first failure.
func (s *Service) Validate(ctx context.Context, appID, configKeyID int64, rc constraint.RangeConstraint) (bool, error) {
	owned, err := s.KeyBelongsToApp(ctx, appID, configKeyID)
	if err != nil {
		return false, err
	}
	valid := owned && ValidValue(rc) && ValidOperator(rc)
	if valid {
		metrics.RecordValidation("valid")
	} else {
		metrics.RecordValidation("invalid")
	}
	return valid, nil
}

// CreateRangeConstraint validates and persists a new range constraint for
// the configuration key.
func (s *Service) CreateRangeConstraint(ctx context.Context, appID, configKeyID, operatorID int64, value json.RawMessage) (constraint.RangeConstraint, error) {
	rc := constraint.RangeConstraint{
		ConfigurationKeyID: configKeyID,
		OperatorID:         operatorID,
		Value:              value,
	}

	valid, err := s.Validate(ctx, appID, configKeyID, rc)
	if err != nil {
		return constraint.RangeConstraint{}, err
	}
	if !valid {
		return constraint.RangeConstraint{}, fmt.Errorf("configuration key %d in application %d, operator %d: %w",
			configKeyID, appID, operatorID, ErrInvalidConstraint)
	}

	created, err := s.store.CreateRangeConstraint(ctx, rc)
	if err != nil {
		return constraint.RangeConstraint{}, err
	}
	s.log.WithTrace(ctx).Debugf("created range constraint %d for key %d", created.ID, configKeyID)
	return created, nil
}

// ListRangeConstraints returns the constraints of a configuration key after
// confirming the key belongs to the application.
func (s *Service) ListRangeConstraints(ctx context.Context, appID, configKeyID int64) ([]constraint.RangeConstraint, error) {
	if err := s.requireOwnedKey(ctx, appID, configKeyID); err != nil {
		return nil, err
	}
	return s.store.ListRangeConstraints(ctx, configKeyID)
}

// DeleteRangeConstraint removes one constraint after confirming the key
// belongs to the application and the constraint belongs to the key.
func (s *Service) DeleteRangeConstraint(ctx context.Context, appID, configKeyID, rcID int64) error {
	if err := s.requireOwnedKey(ctx, appID, configKeyID); err != nil {
		return err
	}

	rc, err := s.store.GetRangeConstraint(ctx, rcID)
	if err != nil {
		return err
	}
	if rc.ConfigurationKeyID != configKeyID {
		return fmt.Errorf("configuration key %d does not have range constraint %d: %w", configKeyID, rcID, ErrNotOwned)
	}
	return s.store.DeleteRangeConstraint(ctx, rcID)
}

// DeleteRangeConstraints removes every constraint of the configuration key,
// applying the same ownership checks as the single delete.
func (s *Service) DeleteRangeConstraints(ctx context.Context, appID, configKeyID int64) error {
	rcs, err := s.ListRangeConstraints(ctx, appID, configKeyID)
	if err != nil {
		return err
	}
	for _, rc := range rcs {
		if err := s.DeleteRangeConstraint(ctx, appID, configKeyID, rc.ID); err != nil {
			return err
		}
	}
	return nil
}

// CreateExclusionConstraint persists a paired constraint rule. Both halves
// must reference keys of the application and carry in-range operators; the
// halves themselves are not cross-validated.
func (s *Service) CreateExclusionConstraint(ctx context.Context, appID int64, ec constraint.ExclusionConstraint) (constraint.ExclusionConstraint, error) {
	for _, half := range []struct {
		keyID      int64
		operatorID int64
	}{
		{ec.FirstConfigurationKeyID, ec.FirstOperatorID},
		{ec.SecondConfigurationKeyID, ec.SecondOperatorID},
	} {
		owned, err := s.KeyBelongsToApp(ctx, appID, half.keyID)
		if err != nil {
			return constraint.ExclusionConstraint{}, err
		}
		if !owned || !constraint.Operator(half.operatorID).Valid() {
			return constraint.ExclusionConstraint{}, fmt.Errorf("configuration key %d / operator %d in application %d: %w",
				half.keyID, half.operatorID, appID, ErrInvalidConstraint)
		}
	}
	return s.store.CreateExclusionConstraint(ctx, ec)
}

// ListExclusionConstraints returns the application's exclusion constraints.
func (s *Service) ListExclusionConstraints(ctx context.Context, appID int64) ([]constraint.ExclusionConstraint, error) {
	return s.store.ListExclusionConstraints(ctx, appID)
}

// DeleteExclusionConstraint removes one exclusion constraint after
// confirming its first half references a key of the application.
func (s *Service) DeleteExclusionConstraint(ctx context.Context, appID, ecID int64) error {
	ec, err := s.store.GetExclusionConstraint(ctx, ecID)
	if err != nil {
		return err
	}
	owned, err := s.KeyBelongsToApp(ctx, appID, ec.FirstConfigurationKeyID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("application %d does not own exclusion constraint %d: %w", appID, ecID, ErrNotOwned)
	}
	return s.store.DeleteExclusionConstraint(ctx, ecID)
}

func (s *Service) requireOwnedKey(ctx context.Context, appID, configKeyID int64) error {
	owned, err := s.KeyBelongsToApp(ctx, appID, configKeyID)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("application %d does not have configuration key %d: %w", appID, configKeyID, ErrNotOwned)
	}
	return nil
}
