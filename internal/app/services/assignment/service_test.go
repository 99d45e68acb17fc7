package assignment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sgizm/experiment-server/internal/app/domain/experiment"
	"github.com/sgizm/experiment-server/internal/app/domain/user"
	"github.com/sgizm/experiment-server/internal/app/storage/memory"
)

func fixture() []experiment.Experiment {
	return []experiment.Experiment{
		{ID: 1, Name: "first", Groups: []experiment.Group{
			{ID: 10, ExperimentID: 1, Name: "control", UserIDs: []int64{1, 2}},
			{ID: 11, ExperimentID: 1, Name: "variant", UserIDs: []int64{3}},
		}},
		{ID: 2, Name: "second", Groups: []experiment.Group{
			{ID: 20, ExperimentID: 2, Name: "control", UserIDs: []int64{2}},
		}},
		{ID: 3, Name: "empty"},
	}
}

func TestParticipating(t *testing.T) {
	exps := fixture()

	in := Participating(exps, 1)
	if len(in) != 1 || in[0].ID != 1 {
		t.Fatalf("unexpected participation for user 1: %+v", in)
	}

	in = Participating(exps, 2)
	if len(in) != 2 || in[0].ID != 1 || in[1].ID != 2 {
		t.Fatalf("unexpected participation for user 2: %+v", in)
	}

	if in := Participating(exps, 99); len(in) != 0 {
		t.Fatalf("expected no participation for unknown user, got %+v", in)
	}
}

func TestParticipatingDeduplicates(t *testing.T) {
	exps := []experiment.Experiment{
		{ID: 1, Groups: []experiment.Group{
			{ID: 10, UserIDs: []int64{7}},
			{ID: 11, UserIDs: []int64{7}},
		}},
	}
	if in := Participating(exps, 7); len(in) != 1 {
		t.Fatalf("experiment must appear once, got %d entries", len(in))
	}
}

func TestNonParticipating(t *testing.T) {
	exps := fixture()

	out := NonParticipating(exps, 1)
	if len(out) != 2 || out[0].ID != 2 || out[1].ID != 3 {
		t.Fatalf("unexpected non-participation for user 1: %+v", out)
	}

	out = NonParticipating(exps, 99)
	if len(out) != 3 {
		t.Fatalf("unknown user must not participate anywhere, got %+v", out)
	}
}

func TestPartitionCoversAllExperiments(t *testing.T) {
	exps := fixture()
	for userID := int64(1); userID <= 4; userID++ {
		in := Participating(exps, userID)
		out := NonParticipating(exps, userID)
		if len(in)+len(out) != len(exps) {
			t.Fatalf("user %d: partition %d+%d does not cover %d experiments", userID, len(in), len(out), len(exps))
		}
		seen := make(map[int64]bool)
		for _, e := range in {
			seen[e.ID] = true
		}
		for _, e := range out {
			if seen[e.ID] {
				t.Fatalf("user %d: experiment %d in both partitions", userID, e.ID)
			}
		}
	}
}

func TestPickGroup(t *testing.T) {
	svc := New(memory.New(), memory.New(), nil, WithPicker(func(n int) int { return n - 1 }))

	exp := fixture()[0]
	g, err := svc.PickGroup(exp)
	if err != nil {
		t.Fatalf("pick group: %v", err)
	}
	if g.ID != 11 {
		t.Fatalf("expected last group, got %d", g.ID)
	}

	if _, err := svc.PickGroup(experiment.Experiment{ID: 3}); !errors.Is(err, ErrNoGroups) {
		t.Fatalf("expected ErrNoGroups, got %v", err)
	}
}

func TestEnsureUser(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	created, err := svc.EnsureUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if created.ID == 0 || created.Username != "alice" {
		t.Fatalf("unexpected user: %+v", created)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("s3cret")); err != nil {
		t.Fatalf("password digest mismatch: %v", err)
	}

	again, err := svc.EnsureUser(ctx, "alice", "different")
	if err != nil {
		t.Fatalf("ensure existing user: %v", err)
	}
	if again.ID != created.ID {
		t.Fatalf("expected existing user %d, got %d", created.ID, again.ID)
	}

	all, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one user, got %d", len(all))
	}
}

func TestAssignToExperiments(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	exp, err := store.CreateExperiment(ctx, experiment.Experiment{Name: "layout"})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	for _, name := range []string{"control", "variant"} {
		if _, err := store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: exp.ID, Name: name}); err != nil {
			t.Fatalf("create group: %v", err)
		}
	}
	// Zero-group experiments are skipped, not fatal.
	if _, err := store.CreateExperiment(ctx, experiment.Experiment{Name: "empty"}); err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	u, err := store.CreateUser(ctx, user.User{Username: "bob"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	joined, err := svc.AssignToExperiments(ctx, u.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(joined) != 1 || joined[0].ExperimentID != exp.ID {
		t.Fatalf("expected one joined group of experiment %d, got %+v", exp.ID, joined)
	}

	// A second pass finds full participation and assigns nothing.
	joined, err = svc.AssignToExperiments(ctx, u.ID)
	if err != nil {
		t.Fatalf("assign again: %v", err)
	}
	if len(joined) != 0 {
		t.Fatalf("expected no further assignments, got %+v", joined)
	}

	loaded, err := store.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("get experiment: %v", err)
	}
	members := 0
	for _, g := range loaded.Groups {
		members += len(g.UserIDs)
	}
	if members != 1 {
		t.Fatalf("expected exactly one membership, got %d", members)
	}
}

// TestAssignmentUniformity assigns many users to a four-group experiment and
// checks the observed distribution stays close to uniform. The picker is
// seeded so the test is repeatable.
func TestAssignmentUniformity(t *testing.T) {
	store := memory.New()
	rng := rand.New(rand.NewSource(42))
	svc := New(store, store, nil, WithPicker(rng.Intn))
	ctx := context.Background()

	exp, err := store.CreateExperiment(ctx, experiment.Experiment{Name: "uniform"})
	require.NoError(t, err)
	groupIDs := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		g, err := store.CreateExperimentGroup(ctx, experiment.Group{ExperimentID: exp.ID, Name: fmt.Sprintf("g%d", i)})
		require.NoError(t, err)
		groupIDs = append(groupIDs, g.ID)
	}

	const iterations = 1000
	for i := 0; i < iterations; i++ {
		u, err := store.CreateUser(ctx, user.User{Username: fmt.Sprintf("user-%d", i)})
		require.NoError(t, err)
		joined, err := svc.AssignToExperiments(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, joined, 1)
	}

	loaded, err := store.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)

	counts := make(map[int64]int)
	total := 0
	for _, g := range loaded.Groups {
		counts[g.ID] = len(g.UserIDs)
		total += len(g.UserIDs)
	}
	require.Equal(t, iterations, total)

	expected := float64(iterations) / float64(len(groupIDs))
	for _, id := range groupIDs {
		require.InDelta(t, expected, float64(counts[id]), expected*0.3,
			"group %d received %d assignments, want about %.0f", id, counts[id], expected)
	}
}
