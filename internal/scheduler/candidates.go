package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Policy controls how the core daytime window is enforced.
type Policy int

const (
	// PolicyCompact forbids sessions outside the window.
	PolicyCompact Policy = iota + 1
	// PolicyFlexible allows them at a per-candidate penalty.
	PolicyFlexible
)

func (p Policy) String() string {
	switch p {
	case PolicyCompact:
		return "compact"
	case PolicyFlexible:
		return "flexible"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts "compact"/"flexible" and the numeric modes "1"/"2".
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "compact", "1":
		return PolicyCompact, nil
	case "flexible", "2", "":
		return PolicyFlexible, nil
	}
	return 0, fmt.Errorf("scheduler: unknown policy %q", raw)
}

// Candidate is one feasible placement of a task.
type Candidate struct {
	Room     int
	Day      int
	Slot     int
	OffHours bool
}

type candidateFilter struct {
	grid         *Grid
	inv          *Inventory
	occupancy    *Occupancy
	availability map[string]*Availability
	policy       Policy
}

// enumerate lists every placement of t surviving the hard filters. Fixed tasks get their pin.
func (f *candidateFilter) enumerate(t Task) []Candidate {
	if t.Pinned != nil {
		room, ok := f.inv.Lookup(t.Pinned.Room)
		if !ok || !f.grid.Fits(t.Pinned.Slot, t.Duration) {
			return nil
		}
		return []Candidate{{
			Room:     room,
			Day:      t.Pinned.Day,
			Slot:     t.Pinned.Slot,
			OffHours: !f.grid.InWindow(t.Pinned.Slot, t.Duration),
		}}
	}

	var out []Candidate
	for room := 0; room < f.inv.Len(); room++ {
		if !f.inv.Suits(room, t) {
			continue
		}
		virtual := f.inv.Room(room).IsVirtual()
		for day := 0; day < f.grid.DayCount(); day++ {
			for slot := 0; slot+t.Duration <= f.grid.SlotCount(); slot++ {
				if f.grid.CoversLunch(slot, t.Duration) {
					continue
				}
				inWindow := f.grid.InWindow(slot, t.Duration)
				if f.policy == PolicyCompact && !inWindow {
					continue
				}
				if !f.staffFree(t, day, slot) {
					continue
				}
				if !virtual && !f.occupancy.Free(room, day, slot, t.Duration) {
					continue
				}
				out = append(out, Candidate{Room: room, Day: day, Slot: slot, OffHours: !inWindow})
			}
		}
	}
	return out
}

func (f *candidateFilter) staffFree(t Task, day, slot int) bool {
	for _, id := range t.Staff {
		if !f.availability[id].Free(day, slot, t.Duration) {
			return false
		}
	}
	return true
}

// generateCandidates enumerates candidates for every task concurrently. Each worker writes only
// its own task's entry.
func generateCandidates(ctx context.Context, f *candidateFilter, tasks []Task, workers int) ([][]Candidate, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([][]Candidate, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range tasks {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = f.enumerate(tasks[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
