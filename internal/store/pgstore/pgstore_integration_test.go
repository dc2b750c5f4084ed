//go:build integration

package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const envPostgresDSN = "SKILLTRACK_TEST_POSTGRES_DSN"

func newIntegrationStore(test *testing.T) (*Store, *pgxpool.Pool) {
	test.Helper()
	dsn := os.Getenv(envPostgresDSN)
	if dsn == "" {
		test.Skipf("%s is not set", envPostgresDSN)
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	test.Cleanup(pool.Close)
	store := New(pool)
	if err := store.EnsureSchema(context.Background()); err != nil {
		test.Fatalf("ensure schema: %v", err)
	}
	return store, pool
}

func mustFreshEntityID(test *testing.T) skills.EntityID {
	test.Helper()
	entityID, err := skills.NewEntityID(uuid.NewString())
	if err != nil {
		test.Fatalf("entity id: %v", err)
	}
	return entityID
}

func TestStoreProfileLifecycle(test *testing.T) {
	store, _ := newIntegrationStore(test)
	ctx := context.Background()
	entityID := mustFreshEntityID(test)

	profile, err := store.LoadProfile(ctx, entityID, skills.Mining)
	if err != nil {
		test.Fatalf("load new profile: %v", err)
	}
	if !profile.Created || profile.Tracked != skills.Mining || !profile.Amounts.IsZero() {
		test.Fatalf("expected fresh Mining profile, got %+v", profile)
	}

	deltas := []skills.Delta{
		{EntityID: entityID, Category: skills.Mining, Amount: 80},
		{EntityID: entityID, Category: skills.Cooking, Amount: 12},
	}
	if err := store.ApplyDeltas(ctx, deltas); err != nil {
		test.Fatalf("apply deltas: %v", err)
	}
	if err := store.ApplyDeltas(ctx, deltas[:1]); err != nil {
		test.Fatalf("apply deltas again: %v", err)
	}
	if err := store.SaveTrackedCategory(ctx, entityID, skills.Fishing); err != nil {
		test.Fatalf("save tracked: %v", err)
	}

	profile, err = store.LoadProfile(ctx, entityID, skills.Mining)
	if err != nil {
		test.Fatalf("reload profile: %v", err)
	}
	if profile.Created {
		test.Fatalf("expected an existing row on reload")
	}
	if profile.Amounts[skills.Mining] != 160 || profile.Amounts[skills.Cooking] != 12 {
		test.Fatalf("unexpected amounts %+v", profile.Amounts)
	}
	if profile.Tracked != skills.Fishing {
		test.Fatalf("expected Fishing tracked, got %s", profile.Tracked)
	}
}

func TestStoreApplyDeltasCreatesMissingRows(test *testing.T) {
	store, _ := newIntegrationStore(test)
	ctx := context.Background()
	entityID := mustFreshEntityID(test)

	if err := store.ApplyDeltas(ctx, []skills.Delta{{EntityID: entityID, Category: skills.Archery, Amount: 7}}); err != nil {
		test.Fatalf("apply deltas: %v", err)
	}
	profile, err := store.LoadProfile(ctx, entityID, skills.Attack)
	if err != nil {
		test.Fatalf("load profile: %v", err)
	}
	if profile.Created || profile.Amounts[skills.Archery] != 7 {
		test.Fatalf("expected the upserted row, got %+v", profile)
	}
}

func TestStoreRecordLevelUp(test *testing.T) {
	store, pool := newIntegrationStore(test)
	ctx := context.Background()
	entityID := mustFreshEntityID(test)

	levelUp := skills.LevelUp{EntityID: entityID, Category: skills.Farming, OldLevel: 1, NewLevel: 3, Amount: 180}
	if err := store.RecordLevelUp(ctx, levelUp); err != nil {
		test.Fatalf("record level up: %v", err)
	}
	var (
		count  int
		amount int64
	)
	err := pool.QueryRow(ctx,
		`select count(*), coalesce(max((details->>'amount')::bigint), 0) from skill_level_ups where player_uuid = $1 and new_level = 3`,
		entityID.UUID(),
	).Scan(&count, &amount)
	if err != nil {
		test.Fatalf("query level ups: %v", err)
	}
	if count != 1 || amount != 180 {
		test.Fatalf("expected one journaled level up with amount 180, got %d / %d", count, amount)
	}
}
