package contribution

import (
	"fmt"
	"strconv"

	"workrecord/api/internal/store"
)

// Target addresses one contribution either by its stable id or, for older
// clients, by its position in the current list.
type Target struct {
	id      string
	index   int
	byIndex bool
}

func ByID(id string) Target {
	return Target{id: id}
}

func ByIndex(index int) Target {
	return Target{index: index, byIndex: true}
}

// ParseTarget builds a Target from optional request fields. Exactly one must be set.
func ParseTarget(id *string, index *int) (Target, error) {
	hasID := id != nil && *id != ""
	switch {
	case hasID && index != nil:
		return Target{}, fmt.Errorf("%w: give either contributionId or contributionIndex, not both", ErrBadRequest)
	case hasID:
		return ByID(*id), nil
	case index != nil:
		if *index < 0 {
			return Target{}, fmt.Errorf("%w: contributionIndex must not be negative", ErrBadRequest)
		}
		return ByIndex(*index), nil
	}
	return Target{}, fmt.Errorf("%w: contributionId or contributionIndex is required", ErrBadRequest)
}

func (t Target) String() string {
	if t.byIndex {
		return "#" + strconv.Itoa(t.index)
	}
	return t.id
}

// resolve returns the position of the addressed entry. Ids match the first entry.
func (t Target) resolve(contributions []store.Contribution) (int, error) {
	if t.byIndex {
		if t.index < 0 {
			return -1, fmt.Errorf("%w: contributionIndex must not be negative", ErrBadRequest)
		}
		if t.index >= len(contributions) {
			return -1, fmt.Errorf("%w: no contribution at index %d", ErrNotFound, t.index)
		}
		return t.index, nil
	}
	if t.id == "" {
		return -1, fmt.Errorf("%w: contributionId is required", ErrBadRequest)
	}
	if i := indexOf(contributions, t.id); i >= 0 {
		return i, nil
	}
	return -1, fmt.Errorf("%w: contribution %s", ErrNotFound, t.id)
}

func indexOf(contributions []store.Contribution, id string) int {
	for i := range contributions {
		if contributions[i].ID == id {
			return i
		}
	}
	return -1
}
