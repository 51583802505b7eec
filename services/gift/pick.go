package gift

import (
	"errors"
	"math/rand/v2"
)

var (
	ErrNoPending     = errors.New("gift group has no pending members")
	ErrNotInGroup    = errors.New("gift is not a pending member of the group")
	ErrGroupTooLarge = errors.New("gift group exceeds maximum size")
	ErrGroupTooSmall = errors.New("gift group needs at least two items")
)

// PickWinner chooses the winner among a group's pending members: the gift
// with explicitID when given, otherwise uniformly at random using intn.
func PickWinner(members []*Gift, explicitID string, intn func(n int) int) (*Gift, error) {
	pending := make([]*Gift, 0, len(members))
	for _, g := range members {
		if g.Status == StatusPending {
			pending = append(pending, g)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNoPending
	}

	if explicitID != "" {
		for _, g := range pending {
			if g.ID == explicitID {
				return g, nil
			}
		}
		return nil, ErrNotInGroup
	}

	if intn == nil {
		intn = rand.IntN
	}
	return pending[intn(len(pending))], nil
}

// GroupByID splits gifts into their groups, keeping first-seen order.
func GroupByID(gifts []*Gift) []*Group {
	var out []*Group
	index := map[string]*Group{}
	for _, g := range gifts {
		key := g.ID
		if g.GroupID != nil {
			key = *g.GroupID
		}
		grp, ok := index[key]
		if !ok {
			grp = &Group{GroupID: key, Source: g.Source}
			index[key] = grp
			out = append(out, grp)
		}
		grp.Gifts = append(grp.Gifts, g)
	}
	return out
}
