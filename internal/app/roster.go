package app

import (
	"cmp"
	"slices"

	"github.com/dkeye/roomlink/internal/domain"
)

// Delta is the difference between two roster generations.
type Delta struct {
	Arrived  []domain.PublisherInfo
	Departed []domain.PublisherID
}

func (d Delta) Empty() bool {
	return len(d.Arrived) == 0 && len(d.Departed) == 0
}

// Roster is the set of remote publishers known to a handle. Identity is
// the publisher id alone. It is owned by the worker and not locked.
type Roster struct {
	known map[domain.PublisherID]domain.PublisherInfo
}

func NewRoster() *Roster {
	return &Roster{known: make(map[domain.PublisherID]domain.PublisherInfo)}
}

// Update replaces the known set with list and reports what changed.
// A nil or empty list means nobody is publishing: everyone departs.
// Both outputs are sorted by id, so equal inputs in any order give equal
// deltas, and delivering the same list twice yields an empty delta.
func (r *Roster) Update(list []domain.PublisherInfo) Delta {
	next := make(map[domain.PublisherID]domain.PublisherInfo, len(list))
	for _, p := range list {
		next[p.ID] = p
	}

	var d Delta
	for id, p := range next {
		if _, ok := r.known[id]; !ok {
			d.Arrived = append(d.Arrived, p)
		}
	}
	for id := range r.known {
		if _, ok := next[id]; !ok {
			d.Departed = append(d.Departed, id)
		}
	}
	r.known = next

	slices.SortFunc(d.Arrived, func(a, b domain.PublisherInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	slices.Sort(d.Departed)
	return d
}

// Add merges incremental publisher announcements into the known set.
func (r *Roster) Add(entries []domain.PublisherInfo) Delta {
	next := r.Snapshot()
	for _, p := range entries {
		if i := slices.IndexFunc(next, func(k domain.PublisherInfo) bool { return k.ID == p.ID }); i >= 0 {
			next[i] = p
			continue
		}
		next = append(next, p)
	}
	return r.Update(next)
}

// Remove drops one publisher from the known set.
func (r *Roster) Remove(id domain.PublisherID) Delta {
	next := slices.DeleteFunc(r.Snapshot(), func(p domain.PublisherInfo) bool { return p.ID == id })
	return r.Update(next)
}

func (r *Roster) Has(id domain.PublisherID) bool {
	_, ok := r.known[id]
	return ok
}

func (r *Roster) Len() int { return len(r.known) }

// Snapshot returns the known publishers sorted by id.
func (r *Roster) Snapshot() []domain.PublisherInfo {
	out := make([]domain.PublisherInfo, 0, len(r.known))
	for _, p := range r.known {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.PublisherInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
