// Package correlation groups events from independent sources that occur
// close together in time at the same location.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/metrics"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/repository"
)

// DefaultWindow is the correlation window width used when none is
// configured.
const DefaultWindow = 60 * time.Second

// Engine evaluates each newly inserted event against open correlation
// groups. Evaluations for the same location serialize on a per-location
// lock so that two near-simultaneous events share one group instead of
// each seeding its own.
type Engine struct {
	repo   repository.Repository
	window time.Duration
	logger *logging.Logger
	locks  keyedMutex

	// now is swapped in tests to control group closing.
	now func() time.Time
}

// New creates a correlation engine with the given window width.
func New(repo repository.Repository, window time.Duration, logger *logging.Logger) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		repo:   repo,
		window: window,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Correlate assigns the event to an open group at its location, or seeds a
// new single-member group. It is invoked once per inserted event, never for
// already-present duplicates.
//
// A group accepts the event when no member shares its source and the
// realized member span stays within the fixed window width. The group's
// bounds track min/max member time ± half the width; extending the bounds
// never extends the permitted width. Groups whose window has fully elapsed
// by wall clock are closed; a late event outside an open group's width
// starts a new group.
func (e *Engine) Correlate(ctx context.Context, event *models.Event) error {
	if event.Location == "" {
		// No join key; the event stays uncorrelated.
		e.logger.DebugContext(ctx, "skipping correlation for event without location",
			logging.EventID(event.ID))
		return nil
	}

	unlock := e.locks.lock(event.Location)
	defer unlock()

	open, err := e.repo.OpenGroupsByLocation(ctx, event.Location, e.now())
	if err != nil {
		return fmt.Errorf("failed to load open groups: %w", err)
	}

	half := e.window / 2
	best, bestDist := (*candidate)(nil), time.Duration(0)

	for _, g := range open {
		cand, err := e.evaluate(ctx, g, event)
		if err != nil {
			return err
		}
		if cand == nil {
			continue
		}
		// Closest centroid wins; ties keep the earliest-created group,
		// which the repository already orders first.
		if best == nil || cand.centroidDist < bestDist {
			best, bestDist = cand, cand.centroidDist
		}
	}

	if best != nil {
		newStart := minTime(best.minT, event.OccurredAt).Add(-half)
		newEnd := maxTime(best.maxT, event.OccurredAt).Add(half)
		if err := e.repo.AddGroupMember(ctx, best.group.ID, event.ID, newStart, newEnd); err != nil {
			return fmt.Errorf("failed to join group %s: %w", best.group.ID, err)
		}
		metrics.GroupsJoined.Inc()
		e.logger.InfoContext(ctx, "event joined correlation group",
			logging.EventID(event.ID), logging.GroupID(best.group.ID),
			logging.Location(event.Location))
		return nil
	}

	group := &models.CorrelationGroup{
		Location:    event.Location,
		WindowStart: event.OccurredAt.Add(-half),
		WindowEnd:   event.OccurredAt.Add(half),
	}
	if err := e.repo.CreateGroup(ctx, group, event.ID); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	metrics.GroupsCreated.Inc()
	e.logger.InfoContext(ctx, "correlation group created",
		logging.EventID(event.ID), logging.GroupID(group.ID),
		logging.Location(event.Location))
	return nil
}

// candidate is an open group the event could join.
type candidate struct {
	group        *models.CorrelationGroup
	minT, maxT   time.Time
	centroidDist time.Duration
}

// evaluate resolves a group's members and checks whether the event fits:
// no member from the same source, and the resulting member span within the
// window width.
func (e *Engine) evaluate(ctx context.Context, g *models.CorrelationGroup, event *models.Event) (*candidate, error) {
	var (
		minT, maxT time.Time
		sum        time.Duration
		count      int
	)
	ref := event.OccurredAt

	for _, id := range g.EventIDs {
		member, err := e.repo.GetEvent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve group member %s: %w", id, err)
		}
		if member.Source == event.Source {
			return nil, nil
		}
		if count == 0 || member.OccurredAt.Before(minT) {
			minT = member.OccurredAt
		}
		if count == 0 || member.OccurredAt.After(maxT) {
			maxT = member.OccurredAt
		}
		sum += member.OccurredAt.Sub(ref)
		count++
	}
	if count == 0 {
		return nil, nil
	}

	span := maxTime(maxT, ref).Sub(minTime(minT, ref))
	if span > e.window {
		return nil, nil
	}

	centroid := ref.Add(sum / time.Duration(count))
	dist := centroid.Sub(ref)
	if dist < 0 {
		dist = -dist
	}
	return &candidate{group: g, minT: minT, maxT: maxT, centroidDist: dist}, nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// keyedMutex provides one mutex per location. The location set is bounded
// by the site's doors and cameras, so entries are never evicted.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
