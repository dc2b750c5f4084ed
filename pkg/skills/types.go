package skills

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// EntityID identifies a tracked player session.
type EntityID struct {
	value uuid.UUID
}

// NewEntityID validates and normalizes an entity id.
func NewEntityID(raw string) (EntityID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntityID{}, fmt.Errorf("%w: empty value", ErrInvalidEntityID)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return EntityID{}, fmt.Errorf("%w: %v", ErrInvalidEntityID, err)
	}
	if parsed == uuid.Nil {
		return EntityID{}, fmt.Errorf("%w: nil uuid", ErrInvalidEntityID)
	}
	return EntityID{value: parsed}, nil
}

// String returns the canonical identifier.
func (id EntityID) String() string {
	return id.value.String()
}

// UUID returns the underlying uuid.
func (id EntityID) UUID() uuid.UUID {
	return id.value
}

// IsZero reports whether the id was never initialized.
func (id EntityID) IsZero() bool {
	return id.value == uuid.Nil
}

// Category is one skill from the closed set below. Adding a value requires a
// matching column in the player_skill_data table.
type Category int

const (
	Attack Category = iota
	Archery
	Cooking
	Crafting
	Farming
	Fishing
	Mining
	Woodcutting

	categoryCount = int(Woodcutting) + 1
)

var categoryNames = [categoryCount]string{
	"ATTACK",
	"ARCHERY",
	"COOKING",
	"CRAFTING",
	"FARMING",
	"FISHING",
	"MINING",
	"WOODCUTTING",
}

var categoryDisplayNames = [categoryCount]string{
	"Attack",
	"Archery",
	"Cooking",
	"Crafting",
	"Farming",
	"Fishing",
	"Mining",
	"Woodcutting",
}

// completionNames holds the sorted lower-case names offered as completions.
var completionNames = func() []string {
	names := make([]string, 0, categoryCount)
	for _, name := range categoryNames {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}()

// Categories lists every category in declaration order.
func Categories() []Category {
	categories := make([]Category, 0, categoryCount)
	for index := 0; index < categoryCount; index++ {
		categories = append(categories, Category(index))
	}
	return categories
}

// ParseCategory resolves a case-insensitive category name.
func ParseCategory(raw string) (Category, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	for index, name := range categoryNames {
		if name == normalized {
			return Category(index), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// CompleteCategory returns the sorted lower-case category names starting with prefix.
func CompleteCategory(prefix string) []string {
	normalized := strings.ToLower(strings.TrimSpace(prefix))
	matches := make([]string, 0, len(completionNames))
	for _, name := range completionNames {
		if strings.HasPrefix(name, normalized) {
			matches = append(matches, name)
		}
	}
	return matches
}

// Valid reports whether the category belongs to the closed set.
func (category Category) Valid() bool {
	return category >= 0 && int(category) < categoryCount
}

// String returns the stable upper-case name, which is also the persisted tracked value.
func (category Category) String() string {
	if !category.Valid() {
		return fmt.Sprintf("Category(%d)", int(category))
	}
	return categoryNames[category]
}

// DisplayName returns the human readable name.
func (category Category) DisplayName() string {
	if !category.Valid() {
		return category.String()
	}
	return categoryDisplayNames[category]
}

// ColumnName returns the persistent column holding the category's cumulative amount.
func (category Category) ColumnName() string {
	return strings.ToLower(category.String()) + "_skill_exp"
}

// Amounts holds one cumulative (or pending) value per category.
type Amounts [categoryCount]int64

// Get returns the amount for category.
func (amounts Amounts) Get(category Category) int64 {
	if !category.Valid() {
		return 0
	}
	return amounts[category]
}

// IsZero reports whether every category is zero.
func (amounts Amounts) IsZero() bool {
	for _, amount := range amounts {
		if amount != 0 {
			return false
		}
	}
	return true
}

// Profile is the state an entity's session starts from.
type Profile struct {
	Amounts Amounts
	Tracked Category
	// Created is set when storage had no row for the entity.
	Created bool
}

// NewProfile returns a zero-initialized profile tracking category.
func NewProfile(tracked Category) Profile {
	return Profile{Tracked: tracked, Created: true}
}

// Delta is one un-flushed increment for a single (entity, category).
type Delta struct {
	EntityID EntityID
	Category Category
	Amount   int64
}

// Change reports the cumulative amount before and after an increment.
type Change struct {
	Old int64
	New int64
}

// LevelUp is emitted once per increment that changes a category's level.
type LevelUp struct {
	EntityID EntityID
	Category Category
	OldLevel int
	NewLevel int
	Amount   int64
}

// SkillStatus is a rendered view of one category for an entity.
type SkillStatus struct {
	Category Category
	Amount   int64
	Level    int
	Progress float64
	Title    string
}
