package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore     = "store"
	errorSubjectDeltas      = "deltas"
	errorSubjectProfile     = "profile"
	errorSubjectTracked     = "tracked"
	errorSubjectLevelUp     = "level_up"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeApply          = "apply"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeMigrate        = "migrate"
	errorCodeSave           = "save"

	sqlCreatePlayerSkillData = `
		create table if not exists player_skill_data (
			uuid uuid primary key,
			attack_skill_exp bigint not null default 0,
			archery_skill_exp bigint not null default 0,
			cooking_skill_exp bigint not null default 0,
			crafting_skill_exp bigint not null default 0,
			farming_skill_exp bigint not null default 0,
			fishing_skill_exp bigint not null default 0,
			mining_skill_exp bigint not null default 0,
			woodcutting_skill_exp bigint not null default 0,
			tracked_skill text not null default '',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)
	`

	sqlCreateLevelUps = `
		create table if not exists skill_level_ups (
			record_id uuid primary key default gen_random_uuid(),
			player_uuid uuid not null,
			category text not null,
			old_level integer not null,
			new_level integer not null,
			details jsonb not null default '{}',
			created_at timestamptz not null default now()
		)
	`

	sqlCreateLevelUpsIndex = `
		create index if not exists idx_level_ups_player_created on skill_level_ups(player_uuid, created_at)
	`

	sqlInsertPlayerIfMissing = `
		insert into player_skill_data(uuid, tracked_skill) values($1, $2)
		on conflict (uuid) do nothing
	`

	sqlSelectPlayer = `
		select
			attack_skill_exp, archery_skill_exp, cooking_skill_exp, crafting_skill_exp,
			farming_skill_exp, fishing_skill_exp, mining_skill_exp, woodcutting_skill_exp,
			tracked_skill
		from player_skill_data
		where uuid = $1
	`

	sqlUpsertTrackedSkill = `
		insert into player_skill_data(uuid, tracked_skill) values($1, $2)
		on conflict (uuid) do update set tracked_skill = excluded.tracked_skill, updated_at = now()
	`

	sqlInsertLevelUp = `
		insert into skill_level_ups(player_uuid, category, old_level, new_level, details)
		values($1, $2, $3, $4, $5::jsonb)
	`
)

// Store implements skills.Store and skills.LevelUpJournal using a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables when they do not exist.
func (store *Store) EnsureSchema(ctx context.Context) error {
	for _, statement := range []string{sqlCreatePlayerSkillData, sqlCreateLevelUps, sqlCreateLevelUpsIndex} {
		if _, err := store.pool.Exec(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
		}
	}
	return nil
}

// ApplyDeltas upserts one additive statement per entity, all sent as a single
// batch inside one transaction.
func (store *Store) ApplyDeltas(ctx context.Context, deltas []skills.Delta) error {
	statements := buildDeltaStatements(deltas)
	if len(statements) == 0 {
		return nil
	}
	return store.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, statement := range statements {
			batch.Queue(statement.sql, statement.arguments...)
		}
		results := tx.SendBatch(ctx, batch)
		for range statements {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return wrapStoreError(errorSubjectDeltas, errorCodeApply, err)
			}
		}
		if err := results.Close(); err != nil {
			return wrapStoreError(errorSubjectDeltas, errorCodeApply, err)
		}
		return nil
	})
}

func (store *Store) SaveTrackedCategory(ctx context.Context, entityID skills.EntityID, category skills.Category) error {
	if _, err := store.pool.Exec(ctx, sqlUpsertTrackedSkill, entityID.UUID(), category.String()); err != nil {
		return wrapStoreError(errorSubjectTracked, errorCodeSave, err)
	}
	return nil
}

func (store *Store) LoadProfile(ctx context.Context, entityID skills.EntityID, defaultCategory skills.Category) (skills.Profile, error) {
	tag, err := store.pool.Exec(ctx, sqlInsertPlayerIfMissing, entityID.UUID(), defaultCategory.String())
	if err != nil {
		return skills.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeCreate, err)
	}
	if tag.RowsAffected() == 1 {
		return skills.NewProfile(defaultCategory), nil
	}

	var (
		amounts skills.Amounts
		tracked string
	)
	err = store.pool.QueryRow(ctx, sqlSelectPlayer, entityID.UUID()).Scan(
		&amounts[skills.Attack],
		&amounts[skills.Archery],
		&amounts[skills.Cooking],
		&amounts[skills.Crafting],
		&amounts[skills.Farming],
		&amounts[skills.Fishing],
		&amounts[skills.Mining],
		&amounts[skills.Woodcutting],
		&tracked,
	)
	if err != nil {
		return skills.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	category, err := skills.ParseCategory(tracked)
	if err != nil {
		category = defaultCategory
	}
	return skills.Profile{Amounts: amounts, Tracked: category}, nil
}

func (store *Store) RecordLevelUp(ctx context.Context, levelUp skills.LevelUp) error {
	details, err := json.Marshal(map[string]any{"amount": levelUp.Amount, "title": levelUp.Category.DisplayName()})
	if err != nil {
		return wrapStoreError(errorSubjectLevelUp, errorCodeInvalid, err)
	}
	_, err = store.pool.Exec(ctx, sqlInsertLevelUp,
		levelUp.EntityID.UUID(),
		levelUp.Category.String(),
		levelUp.OldLevel,
		levelUp.NewLevel,
		string(details),
	)
	if err != nil {
		return wrapStoreError(errorSubjectLevelUp, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

type deltaStatement struct {
	sql       string
	arguments []any
}

// buildDeltaStatements folds deltas into one upsert per entity, in first-seen
// entity order. Column names come from the closed category set.
func buildDeltaStatements(deltas []skills.Delta) []deltaStatement {
	var (
		order   []skills.EntityID
		amounts = make(map[skills.EntityID]*skills.Amounts)
	)
	for _, delta := range deltas {
		if delta.Amount <= 0 || !delta.Category.Valid() {
			continue
		}
		entry, ok := amounts[delta.EntityID]
		if !ok {
			entry = &skills.Amounts{}
			amounts[delta.EntityID] = entry
			order = append(order, delta.EntityID)
		}
		entry[delta.Category] += delta.Amount
	}

	statements := make([]deltaStatement, 0, len(order))
	for _, entityID := range order {
		entry := amounts[entityID]
		columns := []string{"uuid"}
		placeholders := []string{"$1"}
		updates := make([]string, 0, len(skills.Categories())+1)
		arguments := []any{entityID.UUID()}
		for _, category := range skills.Categories() {
			if entry[category] == 0 {
				continue
			}
			column := category.ColumnName()
			arguments = append(arguments, entry[category])
			columns = append(columns, column)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(arguments)))
			updates = append(updates, fmt.Sprintf("%s = player_skill_data.%s + excluded.%s", column, column, column))
		}
		updates = append(updates, "updated_at = now()")
		statements = append(statements, deltaStatement{
			sql: fmt.Sprintf(
				"insert into player_skill_data(%s) values(%s) on conflict (uuid) do update set %s",
				strings.Join(columns, ", "),
				strings.Join(placeholders, ", "),
				strings.Join(updates, ", "),
			),
			arguments: arguments,
		})
	}
	return statements
}

func wrapStoreError(subject string, code string, err error) error {
	return skills.WrapError(errorOperationStore, subject, code, err)
}
