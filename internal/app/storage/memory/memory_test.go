package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sgizm/experiment-server/internal/app/domain/application"
	"github.com/sgizm/experiment-server/internal/app/domain/constraint"
	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
	"github.com/sgizm/experiment-server/internal/app/storage"
)

func TestApplicationLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	app, err := store.CreateApplication(ctx, application.Application{Name: "one"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if app.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := store.GetApplication(ctx, app.ID)
	if err != nil || got.Name != "one" {
		t.Fatalf("get: %+v, %v", got, err)
	}

	if _, err := store.GetApplication(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeleteApplication(ctx, app.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteApplication(ctx, app.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestApplicationDeleteCascades(t *testing.T) {
	store := New()
	ctx := context.Background()

	app, _ := store.CreateApplication(ctx, application.Application{Name: "app"})
	ck, err := store.CreateConfigurationKey(ctx, application.ConfigurationKey{ApplicationID: app.ID, Name: "key"})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	rc, err := store.CreateRangeConstraint(ctx, constraint.RangeConstraint{ConfigurationKeyID: ck.ID, OperatorID: 1, Value: json.RawMessage("1")})
	if err != nil {
		t.Fatalf("create constraint: %v", err)
	}

	if err := store.DeleteApplication(ctx, app.ID); err != nil {
		t.Fatalf("delete application: %v", err)
	}
	if _, err := store.GetConfigurationKey(ctx, ck.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected key cascade, got %v", err)
	}
	if _, err := store.GetRangeConstraint(ctx, rc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected constraint cascade, got %v", err)
	}
}

func TestConfigurationKeyDeleteCascadesConstraints(t *testing.T) {
	store := New()
	ctx := context.Background()

	app, _ := store.CreateApplication(ctx, application.Application{Name: "app"})
	ck, _ := store.CreateConfigurationKey(ctx, application.ConfigurationKey{ApplicationID: app.ID, Name: "key"})
	rc, _ := store.CreateRangeConstraint(ctx, constraint.RangeConstraint{ConfigurationKeyID: ck.ID, OperatorID: 1, Value: json.RawMessage("1")})
	ec, err := store.CreateExclusionConstraint(ctx, constraint.ExclusionConstraint{
		FirstConfigurationKeyID:  ck.ID,
		FirstOperatorID:          1,
		SecondConfigurationKeyID: ck.ID,
		SecondOperatorID:         2,
	})
	if err != nil {
		t.Fatalf("create exclusion constraint: %v", err)
	}

	if err := store.DeleteConfigurationKey(ctx, ck.ID); err != nil {
		t.Fatalf("delete key: %v", err)
	}
	if _, err := store.GetRangeConstraint(ctx, rc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected range constraint cascade, got %v", err)
	}
	if _, err := store.GetExclusionConstraint(ctx, ec.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected exclusion constraint cascade, got %v", err)
	}
}

func TestExperimentGraph(t *testing.T) {
	store := New()
	ctx := context.Background()

	exp, _ := store.CreateExperiment(ctx, experiment.Experiment{Name: "exp"})
	g1, _ := store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: exp.ID, Name: "a"})
	g2, _ := store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: exp.ID, Name: "b"})
	u, _ := store.CreateUser(ctx, user.User{Username: "alice"})

	if err := store.AddUserToGroup(ctx, u.ID, g1.ID); err != nil {
		t.Fatalf("add user: %v", err)
	}
	// Re-adding the same pair is a no-op.
	if err := store.AddUserToGroup(ctx, u.ID, g1.ID); err != nil {
		t.Fatalf("re-add user: %v", err)
	}

	loaded, err := store.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get experiment: %v", err)
	}
	if len(loaded.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(loaded.Groups))
	}
	if got := loaded.Groups[0]; got.ID != g1.ID || len(got.UserIDs) != 1 || got.UserIDs[0] != u.ID {
		t.Fatalf("unexpected first group: %+v", got)
	}
	if got := loaded.Groups[1]; got.ID != g2.ID || len(got.UserIDs) != 0 {
		t.Fatalf("unexpected second group: %+v", got)
	}

	groups, err := store.GroupsForUser(ctx, u.ID)
	if err != nil || len(groups) != 1 || groups[0].ID != g1.ID {
		t.Fatalf("groups for user: %+v, %v", groups, err)
	}
}

func TestExperimentDeleteCascades(t *testing.T) {
	store := New()
	ctx := context.Background()

	exp, _ := store.CreateExperiment(ctx, experiment.Experiment{Name: "exp"})
	g, _ := store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: exp.ID, Name: "a"})
	u, _ := store.CreateUser(ctx, user.User{Username: "alice"})
	_ = store.AddUserToGroup(ctx, u.ID, g.ID)
	if _, err := store.CreateConfiguration(ctx, experiment.Configuration{ExperimentGroupID: g.ID, Key: "k", Value: json.RawMessage("1")}); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	if err := store.DeleteExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("delete experiment: %v", err)
	}
	if _, err := store.GetExperimentGroup(ctx, g.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected group cascade, got %v", err)
	}
	groups, err := store.GroupsForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("groups for user: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected membership cascade, got %+v", groups)
	}
	configs, err := store.ListConfigurations(ctx, g.ID)
	if err != nil {
		t.Fatalf("list configurations: %v", err)
	}
	if len(configs) != 0 {
		t.Fatalf("expected configuration cascade, got %+v", configs)
	}
}

func TestUserUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{Username: "alice"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.CreateUser(ctx, user.User{Username: "alice"}); err == nil {
		t.Fatal("expected duplicate username to fail")
	}
}

func TestUserDeleteCascades(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, user.User{Username: "alice"})
	exp, _ := store.CreateExperiment(ctx, experiment.Experiment{Name: "exp"})
	g, _ := store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: exp.ID, Name: "a"})
	_ = store.AddUserToGroup(ctx, u.ID, g.ID)
	if _, err := store.CreateDataItem(ctx, user.DataItem{UserID: u.ID, Value: 3.5}); err != nil {
		t.Fatalf("create data item: %v", err)
	}

	if err := store.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	items, err := store.ListDataItems(ctx, u.ID)
	if err != nil {
		t.Fatalf("list data items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected data item cascade, got %+v", items)
	}
	loaded, err := store.GetExperimentGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(loaded.UserIDs) != 0 {
		t.Fatalf("expected membership removal, got %+v", loaded.UserIDs)
	}
}

func TestGetUserByUsername(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, _ := store.CreateUser(ctx, user.User{Username: "alice"})
	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != created.ID {
		t.Fatalf("get by username: %+v, %v", got, err)
	}
	if _, err := store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, name := range []string{"c", "a", "b"} {
		if _, err := store.CreateApplication(ctx, application.Application{Name: name}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	apps, err := store.ListApplications(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i := 1; i < len(apps); i++ {
		if apps[i-1].ID >= apps[i].ID {
			t.Fatalf("expected id order, got %+v", apps)
		}
	}
}
