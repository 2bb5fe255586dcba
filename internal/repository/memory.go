package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

// InMemoryRepository is a mutex-guarded implementation used by tests and
// single-process development runs.
type InMemoryRepository struct {
	mu       sync.RWMutex
	events   map[string]*models.Event
	dedup    map[string]string // source|external_id -> event id
	groups   map[string]*models.CorrelationGroup
	rules    map[string]*models.NotificationRule
	eventSeq []string // insertion order, for stable recent listings
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events: make(map[string]*models.Event),
		dedup:  make(map[string]string),
		groups: make(map[string]*models.CorrelationGroup),
		rules:  make(map[string]*models.NotificationRule),
	}
}

func dedupKey(source models.Source, externalID string) string {
	return string(source) + "|" + externalID
}

func (r *InMemoryRepository) InsertEventIfAbsent(_ context.Context, event *models.Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dedupKey(event.Source, event.ExternalID)
	if _, exists := r.dedup[key]; exists {
		return false, nil
	}

	if event.ID == "" {
		id, _ := uuid.NewV7()
		event.ID = id.String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	stored := *event
	r.events[stored.ID] = &stored
	r.dedup[key] = stored.ID
	r.eventSeq = append(r.eventSeq, stored.ID)
	return true, nil
}

func (r *InMemoryRepository) GetEvent(_ context.Context, id string) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func matchesFilter(e *models.Event, f models.EventFilter) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Action != "" && !strings.Contains(strings.ToLower(e.Action), strings.ToLower(f.Action)) {
		return false
	}
	if f.Actor != "" {
		id := ""
		if e.ActorID != nil {
			id = *e.ActorID
		}
		name := ""
		if e.ActorName != nil {
			name = *e.ActorName
		}
		needle := strings.ToLower(f.Actor)
		if !strings.Contains(strings.ToLower(id), needle) && !strings.Contains(strings.ToLower(name), needle) {
			return false
		}
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(e.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.Since != nil && e.OccurredAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.OccurredAt.Before(*f.Until) {
		return false
	}
	if f.Ignored != nil && e.Ignored != *f.Ignored {
		return false
	}
	return true
}

func (r *InMemoryRepository) QueryEvents(_ context.Context, filter models.EventFilter) ([]*models.Event, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.Event, 0)
	for _, e := range r.events {
		if matchesFilter(e, filter) {
			copied := *e
			matched = append(matched, &copied)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []*models.Event{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *InMemoryRepository) SetEventIgnored(_ context.Context, id string, ignored bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return ErrEventNotFound
	}
	event.Ignored = ignored
	return nil
}

func (r *InMemoryRepository) Summary(_ context.Context, since time.Time) (*models.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := &models.Summary{
		Totals:    make(map[models.Source]int),
		Breakdown: []models.ActionCount{},
		TopActors: []models.ActorCount{},
		Recent:    []*models.Event{},
	}

	type actorKey struct{ id, name string }
	breakdown := make(map[models.Source]map[string]int)
	actors := make(map[actorKey]int)
	window := make([]*models.Event, 0)

	for _, e := range r.events {
		if e.Ignored || e.OccurredAt.Before(since) {
			continue
		}
		copied := *e
		window = append(window, &copied)

		summary.Totals[e.Source]++
		if breakdown[e.Source] == nil {
			breakdown[e.Source] = make(map[string]int)
		}
		breakdown[e.Source][e.Action]++

		if e.ActorID != nil && *e.ActorID != "" {
			name := ""
			if e.ActorName != nil {
				name = *e.ActorName
			}
			actors[actorKey{id: *e.ActorID, name: name}]++
		}
	}

	for source, byAction := range breakdown {
		for action, count := range byAction {
			summary.Breakdown = append(summary.Breakdown, models.ActionCount{
				Source: source,
				Action: action,
				Count:  count,
			})
		}
	}
	sort.Slice(summary.Breakdown, func(i, j int) bool {
		if summary.Breakdown[i].Count == summary.Breakdown[j].Count {
			return summary.Breakdown[i].Action < summary.Breakdown[j].Action
		}
		return summary.Breakdown[i].Count > summary.Breakdown[j].Count
	})

	for key, count := range actors {
		summary.TopActors = append(summary.TopActors, models.ActorCount{
			ActorID:   key.id,
			ActorName: key.name,
			Count:     count,
		})
	}
	sort.Slice(summary.TopActors, func(i, j int) bool {
		if summary.TopActors[i].Count == summary.TopActors[j].Count {
			return summary.TopActors[i].ActorID < summary.TopActors[j].ActorID
		}
		return summary.TopActors[i].Count > summary.TopActors[j].Count
	})
	if len(summary.TopActors) > 10 {
		summary.TopActors = summary.TopActors[:10]
	}

	sort.Slice(window, func(i, j int) bool {
		return window[i].OccurredAt.After(window[j].OccurredAt)
	})
	if len(window) > 10 {
		window = window[:10]
	}
	summary.Recent = window

	return summary, nil
}

func (r *InMemoryRepository) CreateGroup(_ context.Context, group *models.CorrelationGroup, seedEventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[seedEventID]
	if !ok {
		return ErrEventNotFound
	}

	if group.ID == "" {
		id, _ := uuid.NewV7()
		group.ID = id.String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.EventIDs = []string{seedEventID}

	stored := *group
	stored.Events = nil
	stored.EventIDs = append([]string(nil), group.EventIDs...)
	r.groups[stored.ID] = &stored

	event.CorrelationGroupID = &stored.ID
	return nil
}

func (r *InMemoryRepository) AddGroupMember(_ context.Context, groupID, eventID string, windowStart, windowEnd time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	event, ok := r.events[eventID]
	if !ok {
		return ErrEventNotFound
	}

	group.WindowStart = windowStart
	group.WindowEnd = windowEnd
	group.EventIDs = append(group.EventIDs, eventID)
	// Members stay ordered by occurrence time.
	sort.Slice(group.EventIDs, func(i, j int) bool {
		a, b := r.events[group.EventIDs[i]], r.events[group.EventIDs[j]]
		return a.OccurredAt.Before(b.OccurredAt)
	})

	event.CorrelationGroupID = &group.ID
	return nil
}

func (r *InMemoryRepository) OpenGroupsByLocation(_ context.Context, location string, asOf time.Time) ([]*models.CorrelationGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open := make([]*models.CorrelationGroup, 0)
	for _, g := range r.groups {
		if g.Location != location || !g.WindowEnd.After(asOf) {
			continue
		}
		open = append(open, r.copyGroupLocked(g, false))
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open, nil
}

func (r *InMemoryRepository) ListGroups(_ context.Context, since, until *time.Time, limit int) ([]*models.CorrelationGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.CorrelationGroup, 0)
	for _, g := range r.groups {
		if since != nil && g.WindowEnd.Before(*since) {
			continue
		}
		if until != nil && !g.WindowStart.Before(*until) {
			continue
		}
		matched = append(matched, r.copyGroupLocked(g, true))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// copyGroupLocked clones a group, optionally resolving member events.
// Callers must hold at least the read lock.
func (r *InMemoryRepository) copyGroupLocked(g *models.CorrelationGroup, resolve bool) *models.CorrelationGroup {
	copied := *g
	copied.EventIDs = append([]string(nil), g.EventIDs...)
	if resolve {
		copied.Events = make([]*models.Event, 0, len(g.EventIDs))
		for _, id := range g.EventIDs {
			if e, ok := r.events[id]; ok {
				ec := *e
				copied.Events = append(copied.Events, &ec)
			}
		}
	}
	return &copied
}

func (r *InMemoryRepository) CreateRule(_ context.Context, rule *models.NotificationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		id, _ := uuid.NewV7()
		rule.ID = id.String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	stored := *rule
	r.rules[stored.ID] = &stored
	return nil
}

func (r *InMemoryRepository) GetRule(_ context.Context, id string) (*models.NotificationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	copied := *rule
	return &copied, nil
}

func (r *InMemoryRepository) ListRules(_ context.Context) ([]*models.NotificationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]*models.NotificationRule, 0, len(r.rules))
	for _, rule := range r.rules {
		copied := *rule
		rules = append(rules, &copied)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

func (r *InMemoryRepository) UpdateRule(_ context.Context, rule *models.NotificationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return ErrRuleNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	stored := *rule
	r.rules[stored.ID] = &stored
	return nil
}

func (r *InMemoryRepository) DeleteRule(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

func (r *InMemoryRepository) Close() {}
