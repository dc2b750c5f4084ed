package display

import (
	"testing"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
)

func TestBoardTracksOneBarPerEntity(test *testing.T) {
	test.Parallel()
	board := NewBoard()
	entityID, err := skills.NewEntityID("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	if err != nil {
		test.Fatalf("entity id: %v", err)
	}

	first := board.Create(entityID, "Mining - Level 1 / 99 - Experience 0 / 83", 0)
	first.Update("Mining - Level 1 / 99 - Experience 40 / 83", 0.48)
	view, ok := board.View(entityID)
	if !ok || view.Fraction != 0.48 {
		test.Fatalf("unexpected view %+v", view)
	}

	first.Detach()
	second := board.Create(entityID, "Fishing - Level 1 / 99 - Experience 0 / 83", 0)
	first.Update("stale", 1)
	first.Detach()
	view, ok = board.View(entityID)
	if !ok || view.Title != "Fishing - Level 1 / 99 - Experience 0 / 83" {
		test.Fatalf("unexpected view after switch %+v", view)
	}

	second.Detach()
	if _, ok := board.View(entityID); ok {
		test.Fatalf("expected no visible bar")
	}
	created, detached := board.Counts()
	if created != 2 || detached != 2 || board.Visible() != 0 {
		test.Fatalf("unexpected counts created=%d detached=%d visible=%d", created, detached, board.Visible())
	}
}

func TestBoardDrivenByService(test *testing.T) {
	test.Parallel()
	board := NewBoard()
	service, err := skills.NewService(nopStore{}, skills.DefaultLevelTable(), skills.WithDisplay(board))
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	entityID, err := skills.NewEntityID("0f8fad5b-d9cb-469f-a165-70867728950e")
	if err != nil {
		test.Fatalf("entity id: %v", err)
	}
	ctx := test.Context()
	if err := service.BeginSession(ctx, entityID, skills.NewProfile(skills.Mining)); err != nil {
		test.Fatalf("begin: %v", err)
	}
	if err := service.Increment(ctx, entityID, skills.Mining, 100); err != nil {
		test.Fatalf("increment: %v", err)
	}
	view, ok := board.View(entityID)
	if !ok || view.Title != "Mining - Level 2 / 99 - Experience 100 / 174" {
		test.Fatalf("unexpected view %+v", view)
	}
	service.EndSession(ctx, entityID)
	if board.Visible() != 0 {
		test.Fatalf("expected bar to be removed on session end")
	}
	if err := service.Stop(ctx); err != nil {
		test.Fatalf("stop: %v", err)
	}
}
