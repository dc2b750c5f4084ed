package display

import (
	"context"

	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
)

type nopStore struct{}

func (nopStore) ApplyDeltas(context.Context, []skills.Delta) error { return nil }

func (nopStore) SaveTrackedCategory(context.Context, skills.EntityID, skills.Category) error {
	return nil
}

func (nopStore) LoadProfile(_ context.Context, _ skills.EntityID, defaultCategory skills.Category) (skills.Profile, error) {
	return skills.NewProfile(defaultCategory), nil
}
