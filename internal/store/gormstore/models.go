package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlayerSkillData mirrors the player_skill_data table: one row per entity with
// a cumulative column per category.
type PlayerSkillData struct {
	UUID                string    `gorm:"column:uuid;type:uuid;primaryKey"`
	AttackSkillExp      int64     `gorm:"column:attack_skill_exp;not null;default:0"`
	ArcherySkillExp     int64     `gorm:"column:archery_skill_exp;not null;default:0"`
	CookingSkillExp     int64     `gorm:"column:cooking_skill_exp;not null;default:0"`
	CraftingSkillExp    int64     `gorm:"column:crafting_skill_exp;not null;default:0"`
	FarmingSkillExp     int64     `gorm:"column:farming_skill_exp;not null;default:0"`
	FishingSkillExp     int64     `gorm:"column:fishing_skill_exp;not null;default:0"`
	MiningSkillExp      int64     `gorm:"column:mining_skill_exp;not null;default:0"`
	WoodcuttingSkillExp int64     `gorm:"column:woodcutting_skill_exp;not null;default:0"`
	TrackedSkill        string    `gorm:"column:tracked_skill;not null;default:''"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (PlayerSkillData) TableName() string { return "player_skill_data" }

func (row PlayerSkillData) amounts() skills.Amounts {
	var amounts skills.Amounts
	amounts[skills.Attack] = row.AttackSkillExp
	amounts[skills.Archery] = row.ArcherySkillExp
	amounts[skills.Cooking] = row.CookingSkillExp
	amounts[skills.Crafting] = row.CraftingSkillExp
	amounts[skills.Farming] = row.FarmingSkillExp
	amounts[skills.Fishing] = row.FishingSkillExp
	amounts[skills.Mining] = row.MiningSkillExp
	amounts[skills.Woodcutting] = row.WoodcuttingSkillExp
	return amounts
}

// LevelUpRecord mirrors the skill_level_ups journal table.
type LevelUpRecord struct {
	RecordID   string         `gorm:"type:uuid;primaryKey"`
	PlayerUUID string         `gorm:"type:uuid;not null;index:idx_level_ups_player_created,priority:1"`
	Category   string         `gorm:"not null"`
	OldLevel   int            `gorm:"not null"`
	NewLevel   int            `gorm:"not null"`
	Details    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_level_ups_player_created,priority:2"`
}

func (LevelUpRecord) TableName() string { return "skill_level_ups" }

func (record *LevelUpRecord) BeforeCreate(tx *gorm.DB) error {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by this store, in migration order.
func Models() []any {
	return []any{&PlayerSkillData{}, &LevelUpRecord{}}
}
