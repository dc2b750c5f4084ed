package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectDeltas    = "deltas"
	errorSubjectProfile   = "profile"
	errorSubjectTracked   = "tracked"
	errorSubjectLevelUp   = "level_up"
	errorCodeApply        = "apply"
	errorCodeCreate       = "create"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeSave         = "save"
	columnUUID            = "uuid"
	columnTrackedSkill    = "tracked_skill"
	columnUpdatedAt       = "updated_at"
)

// Store implements skills.Store and skills.LevelUpJournal using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ApplyDeltas adds every delta to its column in one transaction. Rows missing
// for an entity are created first so no delta is dropped.
func (store *Store) ApplyDeltas(ctx context.Context, deltas []skills.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		now := time.Now().UTC()
		for _, group := range groupDeltas(deltas) {
			assignments := map[string]interface{}{columnUpdatedAt: now}
			for _, delta := range group.deltas {
				column := delta.Category.ColumnName()
				assignments[column] = gorm.Expr(column+" + ?", delta.Amount)
			}
			entityID := group.entityID.String()
			result := transaction.Model(&PlayerSkillData{}).Where(columnUUID+" = ?", entityID).UpdateColumns(assignments)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				continue
			}
			if err := ensurePlayer(transaction, entityID, "", now); err != nil {
				return err
			}
			if err := transaction.Model(&PlayerSkillData{}).Where(columnUUID+" = ?", entityID).UpdateColumns(assignments).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectDeltas, errorCodeApply, err)
	}
	return nil
}

// SaveTrackedCategory upserts the entity's tracked category.
func (store *Store) SaveTrackedCategory(ctx context.Context, entityID skills.EntityID, category skills.Category) error {
	now := time.Now().UTC()
	row := PlayerSkillData{
		UUID:         entityID.String(),
		TrackedSkill: category.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnUUID}},
			DoUpdates: clause.AssignmentColumns([]string{columnTrackedSkill, columnUpdatedAt}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectTracked, errorCodeSave, err)
	}
	return nil
}

// LoadProfile returns the entity's stored amounts and tracked category, creating
// a zeroed row tracking defaultCategory when none exists.
func (store *Store) LoadProfile(ctx context.Context, entityID skills.EntityID, defaultCategory skills.Category) (skills.Profile, error) {
	database := store.db.WithContext(ctx)
	row, err := takePlayer(database, entityID.String())
	if err == nil {
		return profileFromRow(row, defaultCategory), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return skills.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}

	now := time.Now().UTC()
	created := PlayerSkillData{
		UUID:         entityID.String(),
		TrackedSkill: defaultCategory.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = database.Create(&created).Error
	if isDuplicate(err) {
		// created concurrently by another session
		row, err = takePlayer(database, entityID.String())
		if err != nil {
			return skills.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
		}
		return profileFromRow(row, defaultCategory), nil
	}
	if err != nil {
		return skills.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeCreate, err)
	}
	return skills.NewProfile(defaultCategory), nil
}

// RecordLevelUp appends a level-up to the journal table.
func (store *Store) RecordLevelUp(ctx context.Context, levelUp skills.LevelUp) error {
	details, err := json.Marshal(levelUpDetails{Amount: levelUp.Amount, Title: levelUp.Category.DisplayName()})
	if err != nil {
		return wrapStoreError(errorSubjectLevelUp, errorCodeInvalid, err)
	}
	record := LevelUpRecord{
		PlayerUUID: levelUp.EntityID.String(),
		Category:   levelUp.Category.String(),
		OldLevel:   levelUp.OldLevel,
		NewLevel:   levelUp.NewLevel,
		Details:    datatypes.JSON(details),
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectLevelUp, errorCodeInsert, err)
	}
	return nil
}

// ListLevelUps returns the entity's journaled level-ups, newest first.
func (store *Store) ListLevelUps(ctx context.Context, entityID skills.EntityID, limit int) ([]skills.LevelUp, error) {
	var rows []LevelUpRecord
	err := store.db.WithContext(ctx).
		Where("player_uuid = ?", entityID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLevelUp, errorCodeGet, err)
	}
	levelUps := make([]skills.LevelUp, 0, len(rows))
	for _, row := range rows {
		levelUp, err := mapLevelUp(entityID, row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLevelUp, errorCodeInvalid, err)
		}
		levelUps = append(levelUps, levelUp)
	}
	return levelUps, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return skills.WrapError(errorOperationStore, subject, code, err)
}

type levelUpDetails struct {
	Amount int64  `json:"amount"`
	Title  string `json:"title"`
}

type entityDeltas struct {
	entityID skills.EntityID
	deltas   []skills.Delta
}

// groupDeltas keeps the input order of entities.
func groupDeltas(deltas []skills.Delta) []entityDeltas {
	var groups []entityDeltas
	positions := make(map[skills.EntityID]int)
	for _, delta := range deltas {
		if delta.Amount <= 0 || !delta.Category.Valid() {
			continue
		}
		position, ok := positions[delta.EntityID]
		if !ok {
			position = len(groups)
			positions[delta.EntityID] = position
			groups = append(groups, entityDeltas{entityID: delta.EntityID})
		}
		groups[position].deltas = append(groups[position].deltas, delta)
	}
	return groups
}

func ensurePlayer(database *gorm.DB, entityID string, tracked string, now time.Time) error {
	row := PlayerSkillData{UUID: entityID, TrackedSkill: tracked, CreatedAt: now, UpdatedAt: now}
	return database.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func takePlayer(database *gorm.DB, entityID string) (PlayerSkillData, error) {
	var row PlayerSkillData
	err := database.Where(columnUUID+" = ?", entityID).Take(&row).Error
	return row, err
}

func profileFromRow(row PlayerSkillData, defaultCategory skills.Category) skills.Profile {
	tracked, err := skills.ParseCategory(row.TrackedSkill)
	if err != nil {
		tracked = defaultCategory
	}
	return skills.Profile{Amounts: row.amounts(), Tracked: tracked}
}

func mapLevelUp(entityID skills.EntityID, row LevelUpRecord) (skills.LevelUp, error) {
	category, err := skills.ParseCategory(row.Category)
	if err != nil {
		return skills.LevelUp{}, err
	}
	var details levelUpDetails
	if err := json.Unmarshal(row.Details, &details); err != nil {
		return skills.LevelUp{}, err
	}
	return skills.LevelUp{
		EntityID: entityID,
		Category: category,
		OldLevel: row.OldLevel,
		NewLevel: row.NewLevel,
		Amount:   details.Amount,
	}, nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
