package skills

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
)

// defaultThresholds maps cumulative experience to levels: index i is the minimum
// amount for level i+1.
var defaultThresholds = []int64{
	0, 83, 174, 276, 388, 512, 650, 801, 969, 1_154, 1_358, 1_584, 1_833, 2_107, 2_411, 2_746, 3_115, 3_523, 3_973,
	4_470, 5_018, 5_624, 6_291, 7_028, 7_842, 8_740, 9_730, 10_824, 12_031, 13_363, 14_833, 16_456, 18_247, 20_224,
	22_406, 24_815, 27_473, 30_408, 33_648, 37_224, 41_171, 45_529, 50_339, 55_649, 61_512, 67_983, 75_127, 83_014,
	91_721, 101_333, 111_945, 123_660, 136_594, 150_872, 166_636, 184_040, 203_254, 224_466, 247_886, 273_742,
	302_288, 333_804, 368_599, 407_015, 449_428, 496_254, 547_953, 605_032, 668_051, 737_627, 814_445, 899_257,
	992_895, 1_096_278, 1_210_421, 1_336_443, 1_475_581, 1_629_200, 1_798_808, 1_986_068, 2_192_818, 2_421_087,
	2_673_114, 2_951_373, 3_258_594, 3_597_792, 3_972_294, 4_385_776, 4_842_295, 5_346_332, 5_902_831, 6_517_253,
	7_195_629, 7_944_614, 8_771_558, 9_684_577, 10_692_629, 11_805_606, 13_034_431, 14_391_160,
}

// LevelTable converts cumulative amounts into levels and progress fractions.
// The zero value is unusable; construct it with NewLevelTable.
type LevelTable struct {
	thresholds []int64
}

// NewLevelTable validates a strictly increasing, non-negative threshold sequence.
func NewLevelTable(thresholds []int64) (LevelTable, error) {
	if len(thresholds) == 0 {
		return LevelTable{}, fmt.Errorf("%w: empty table", ErrInvalidThresholds)
	}
	if thresholds[0] < 0 {
		return LevelTable{}, fmt.Errorf("%w: negative first threshold", ErrInvalidThresholds)
	}
	for index := 1; index < len(thresholds); index++ {
		if thresholds[index] <= thresholds[index-1] {
			return LevelTable{}, fmt.Errorf("%w: threshold %d is not greater than its predecessor", ErrInvalidThresholds, index)
		}
	}
	copied := make([]int64, len(thresholds))
	copy(copied, thresholds)
	return LevelTable{thresholds: copied}, nil
}

// DefaultLevelTable returns the built-in 99 level table.
func DefaultLevelTable() LevelTable {
	table, err := NewLevelTable(defaultThresholds)
	if err != nil {
		panic(err)
	}
	return table
}

// LoadLevelTable reads a JSON array of thresholds from path. An empty path or a
// missing file yields the default table.
func LoadLevelTable(path string) (LevelTable, error) {
	if path == "" {
		return DefaultLevelTable(), nil
	}
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultLevelTable(), nil
	}
	if err != nil {
		return LevelTable{}, fmt.Errorf("read levels file: %w", err)
	}
	var thresholds []int64
	if err := json.Unmarshal(contents, &thresholds); err != nil {
		return LevelTable{}, fmt.Errorf("%w: %v", ErrInvalidThresholds, err)
	}
	return NewLevelTable(thresholds)
}

// MaxLevel is the table length.
func (table LevelTable) MaxLevel() int {
	return len(table.thresholds)
}

// Threshold returns the minimum amount for level, clamped to the table.
func (table LevelTable) Threshold(level int) int64 {
	if len(table.thresholds) == 0 {
		return 0
	}
	if level < 1 {
		level = 1
	}
	if level > len(table.thresholds) {
		level = len(table.thresholds)
	}
	return table.thresholds[level-1]
}

// Level returns the number of thresholds at or below amount, clamped to [1, MaxLevel].
func (table LevelTable) Level(amount int64) int {
	level := sort.Search(len(table.thresholds), func(index int) bool {
		return table.thresholds[index] > amount
	})
	if level < 1 {
		return 1
	}
	return level
}

// Progress returns the completed fraction of level towards the next one. Levels
// outside (0, MaxLevel) have nothing left to show and report 1.
func (table LevelTable) Progress(amount int64, level int) float64 {
	if level <= 0 || level >= len(table.thresholds) {
		return 1
	}
	low := table.Threshold(level)
	high := table.Threshold(level + 1)
	fraction := float64(amount-low) / float64(high-low)
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}

// Title renders the progress bar title for category at amount.
func (table LevelTable) Title(category Category, amount int64) string {
	level := table.Level(amount)
	if level >= table.MaxLevel() {
		return fmt.Sprintf("%s - Level %d - Experience %s", category.DisplayName(), level, humanize.Comma(amount))
	}
	return fmt.Sprintf("%s - Level %d / %d - Experience %s / %s",
		category.DisplayName(),
		level,
		table.MaxLevel(),
		humanize.Comma(amount),
		humanize.Comma(table.Threshold(level+1)),
	)
}

// Status renders one category for display.
func (table LevelTable) Status(category Category, amount int64) SkillStatus {
	level := table.Level(amount)
	return SkillStatus{
		Category: category,
		Amount:   amount,
		Level:    level,
		Progress: table.Progress(amount, level),
		Title:    table.Title(category, amount),
	}
}
