package constraints

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sgizm/experiment-server/internal/app/domain/application"
	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/storage"
	"github.com/sgizm/experiment-server/internal/app/storage/memory"
)

func seedKey(t *testing.T, store *memory.Store) (appID, keyID int64) {
	t.Helper()
	ctx := context.Background()
	app, err := store.CreateApplication(ctx, application.Application{Name: "myapp"})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	ck, err := store.CreateConfigurationKey(ctx, application.ConfigurationKey{ApplicationID: app.ID, Name: "threshold", Type: "float"})
	if err != nil {
		t.Fatalf("create configuration key: %v", err)
	}
	return app.ID, ck.ID
}

func TestValidValue(t *testing.T) {
	if !ValidValue(constraint.RangeConstraint{Value: json.RawMessage("3")}) {
		t.Fatal("integer value must be valid")
	}
	if !ValidValue(constraint.RangeConstraint{Value: json.RawMessage("3.5")}) {
		t.Fatal("float value must be valid")
	}
	if ValidValue(constraint.RangeConstraint{Value: json.RawMessage(`"3"`)}) {
		t.Fatal("string value must be invalid")
	}
}

func TestValidOperator(t *testing.T) {
	for id := int64(1); id <= 6; id++ {
		if !ValidOperator(constraint.RangeConstraint{OperatorID: id}) {
			t.Fatalf("operator %d must be valid", id)
		}
	}
	if ValidOperator(constraint.RangeConstraint{OperatorID: 0}) {
		t.Fatal("operator 0 must be invalid")
	}
	if ValidOperator(constraint.RangeConstraint{OperatorID: 7}) {
		t.Fatal("operator 7 must be invalid")
	}
}

func TestKeyBelongsToApp(t *testing.T) {
	store := memory.New()
	appID, keyID := seedKey(t, store)
	svc := New(store, store, nil)
	ctx := context.Background()

	owned, err := svc.KeyBelongsToApp(ctx, appID, keyID)
	if err != nil {
		t.Fatalf("key belongs: %v", err)
	}
	if !owned {
		t.Fatal("expected key to belong to its application")
	}

	owned, err = svc.KeyBelongsToApp(ctx, appID+1, keyID)
	if err != nil {
		t.Fatalf("key belongs: %v", err)
	}
	if owned {
		t.Fatal("expected key not to belong to another application")
	}

	// A missing key is a clean false, not an error.
	owned, err = svc.KeyBelongsToApp(ctx, appID, keyID+99)
	if err != nil {
		t.Fatalf("missing key must not error: %v", err)
	}
	if owned {
		t.Fatal("missing key must not be owned")
	}
}

func TestValidate(t *testing.T) {
	store := memory.New()
	appID, keyID := seedKey(t, store)
	svc := New(store, store, nil)
	ctx := context.Background()

	rc := constraint.RangeConstraint{ConfigurationKeyID: keyID, OperatorID: 1, Value: json.RawMessage("10")}
	ok, err := svc.Validate(ctx, appID, keyID, rc)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatal("expected valid constraint")
	}

	// Wrong application short-circuits before value and operator checks.
	ok, err = svc.Validate(ctx, appID+1, keyID, rc)
	if err != nil || ok {
		t.Fatalf("expected clean false for foreign key, got ok=%v err=%v", ok, err)
	}

	bad := rc
	bad.Value = json.RawMessage(`"ten"`)
	ok, err = svc.Validate(ctx, appID, keyID, bad)
	if err != nil || ok {
		t.Fatalf("expected clean false for string value, got ok=%v err=%v", ok, err)
	}

	bad = rc
	bad.OperatorID = 0
	ok, err = svc.Validate(ctx, appID, keyID, bad)
	if err != nil || ok {
		t.Fatalf("expected clean false for operator 0, got ok=%v err=%v", ok, err)
	}
	bad.OperatorID = 7
	ok, err = svc.Validate(ctx, appID, keyID, bad)
	if err != nil || ok {
		t.Fatalf("expected clean false for operator 7, got ok=%v err=%v", ok, err)
	}
}

func TestCreateRangeConstraint(t *testing.T) {
	store := memory.New()
	appID, keyID := seedKey(t, store)
	svc := New(store, store, nil)
	ctx := context.Background()

	created, err := svc.CreateRangeConstraint(ctx, appID, keyID, 3, json.RawMessage("2.5"))
	if err != nil {
		t.Fatalf("create range constraint: %v", err)
	}
	if created.ID == 0 || created.ConfigurationKeyID != keyID || created.OperatorID != 3 {
		t.Fatalf("unexpected constraint: %+v", created)
	}

	if _, err := svc.CreateRangeConstraint(ctx, appID, keyID, 9, json.RawMessage("1")); !errors.Is(err, ErrInvalidConstraint) {
		t.Fatalf("expected ErrInvalidConstraint for operator 9, got %v", err)
	}
	if _, err := svc.CreateRangeConstraint(ctx, appID, keyID, 1, json.RawMessage(`"x"`)); !errors.Is(err, ErrInvalidConstraint) {
		t.Fatalf("expected ErrInvalidConstraint for string value, got %v", err)
	}
	if _, err := svc.CreateRangeConstraint(ctx, appID+1, keyID, 1, json.RawMessage("1")); !errors.Is(err, ErrInvalidConstraint) {
		t.Fatalf("expected ErrInvalidConstraint for foreign application, got %v", err)
	}
}

func TestDeleteRangeConstraintOwnership(t *testing.T) {
	store := memory.New()
	appID, keyID := seedKey(t, store)
	ctx := context.Background()

	otherApp, err := store.CreateApplication(ctx, application.Application{Name: "other"})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	otherKey, err := store.CreateConfigurationKey(ctx, application.ConfigurationKey{ApplicationID: otherApp.ID, Name: "limit"})
	if err != nil {
		t.Fatalf("create configuration key: %v", err)
	}

	svc := New(store, store, nil)
	created, err := svc.CreateRangeConstraint(ctx, appID, keyID, 1, json.RawMessage("1"))
	if err != nil {
		t.Fatalf("create range constraint: %v", err)
	}

	// Key belongs to a different application.
	if err := svc.DeleteRangeConstraint(ctx, otherApp.ID, keyID, created.ID); err == nil {
		t.Fatal("expected deletion via foreign application to fail")
	}
	// Constraint belongs to a different key.
	if err := svc.DeleteRangeConstraint(ctx, otherApp.ID, otherKey.ID, created.ID); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}

	if err := svc.DeleteRangeConstraint(ctx, appID, keyID, created.ID); err != nil {
		t.Fatalf("delete range constraint: %v", err)
	}
	if _, err := store.GetRangeConstraint(ctx, created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected constraint gone, got %v", err)
	}
}

func TestDeleteRangeConstraintsAll(t *testing.T) {
	store := memory.New()
	appID, keyID := seedKey(t, store)
	svc := New(store, store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateRangeConstraint(ctx, appID, keyID, 1, json.RawMessage("1")); err != nil {
			t.Fatalf("create range constraint: %v", err)
		}
	}
	if err := svc.DeleteRangeConstraints(ctx, appID, keyID); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	remaining, err := svc.ListRangeConstraints(ctx, appID, keyID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no constraints, got %d", len(remaining))
	}
}

func TestExclusionConstraintLifecycle(t *testing.T) {
	store := memory.New()
	appID, keyID := seedKey(t, store)
	svc := New(store, store, nil)
	ctx := context.Background()

	ec := constraint.ExclusionConstraint{
		FirstConfigurationKeyID:  keyID,
		FirstOperatorID:          2,
		FirstValueA:              json.RawMessage("1"),
		SecondConfigurationKeyID: keyID,
		SecondOperatorID:         5,
		SecondValueA:             json.RawMessage("10"),
	}
	created, err := svc.CreateExclusionConstraint(ctx, appID, ec)
	if err != nil {
		t.Fatalf("create exclusion constraint: %v", err)
	}

	bad := ec
	bad.SecondOperatorID = 7
	if _, err := svc.CreateExclusionConstraint(ctx, appID, bad); !errors.Is(err, ErrInvalidConstraint) {
		t.Fatalf("expected ErrInvalidConstraint for bad second operator, got %v", err)
	}

	list, err := svc.ListExclusionConstraints(ctx, appID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := svc.DeleteExclusionConstraint(ctx, appID+1, created.ID); err == nil {
		t.Fatal("expected deletion via foreign application to fail")
	}
	if err := svc.DeleteExclusionConstraint(ctx, appID, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
