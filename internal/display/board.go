// Package display keeps the live progress bars shown to each entity in memory.
package display

import (
	"sync"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
)

// View is a point-in-time copy of an entity's bar.
type View struct {
	Title    string
	Fraction float64
}

// Board implements skills.Display. Each entity has at most one visible bar;
// a detached bar no longer affects the board.
type Board struct {
	mu       sync.RWMutex
	bars     map[skills.EntityID]*bar
	created  int
	detached int
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{bars: make(map[skills.EntityID]*bar)}
}

// Create shows a new bar for entityID, replacing whatever was visible.
func (board *Board) Create(entityID skills.EntityID, title string, fraction float64) skills.ProgressBar {
	created := &bar{board: board, entityID: entityID, title: title, fraction: fraction}
	board.mu.Lock()
	defer board.mu.Unlock()
	board.bars[entityID] = created
	board.created++
	return created
}

// View returns the entity's visible bar.
func (board *Board) View(entityID skills.EntityID) (View, bool) {
	board.mu.RLock()
	defer board.mu.RUnlock()
	current, ok := board.bars[entityID]
	if !ok {
		return View{}, false
	}
	return View{Title: current.title, Fraction: current.fraction}, true
}

// Counts returns how many bars were created and detached.
func (board *Board) Counts() (created int, detached int) {
	board.mu.RLock()
	defer board.mu.RUnlock()
	return board.created, board.detached
}

// Visible returns the number of entities with a bar on screen.
func (board *Board) Visible() int {
	board.mu.RLock()
	defer board.mu.RUnlock()
	return len(board.bars)
}

type bar struct {
	board    *Board
	entityID skills.EntityID
	title    string
	fraction float64
	detached bool
}

func (current *bar) Update(title string, fraction float64) {
	current.board.mu.Lock()
	defer current.board.mu.Unlock()
	if current.detached {
		return
	}
	current.title = title
	current.fraction = fraction
}

func (current *bar) Detach() {
	current.board.mu.Lock()
	defer current.board.mu.Unlock()
	if current.detached {
		return
	}
	current.detached = true
	current.board.detached++
	if current.board.bars[current.entityID] == current {
		delete(current.board.bars, current.entityID)
	}
}
