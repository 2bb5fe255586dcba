package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/repository"
)

func newTestEngine(t *testing.T, window time.Duration, now time.Time) (*Engine, *repository.InMemoryRepository) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	eng := New(repo, window, nil)
	eng.now = func() time.Time { return now }
	return eng, repo
}

func insertEvent(t *testing.T, repo repository.Repository, source models.Source, externalID string, occurredAt time.Time) *models.Event {
	t.Helper()
	e := &models.Event{
		Source:     source,
		ExternalID: externalID,
		Action:     models.ActionMotion,
		RawAction:  "motion",
		OccurredAt: occurredAt,
		Location:   "Front",
	}
	inserted, err := repo.InsertEventIfAbsent(context.Background(), e)
	require.NoError(t, err)
	require.True(t, inserted)
	return e
}

func TestCorrelateCrossSourceEventsShareGroup(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base.Add(135*time.Second))
	ctx := context.Background()

	access := insertEvent(t, repo, models.SourceAccess, "ext-1", base.Add(100*time.Second))
	require.NoError(t, eng.Correlate(ctx, access))

	protect := insertEvent(t, repo, models.SourceProtect, "ext-9", base.Add(130*time.Second))
	require.NoError(t, eng.Correlate(ctx, protect))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Len(t, g.EventIDs, 2)
	assert.Equal(t, "Front", g.Location)
	// min(100)-30 .. max(130)+30
	assert.Equal(t, base.Add(70*time.Second), g.WindowStart)
	assert.Equal(t, base.Add(160*time.Second), g.WindowEnd)

	for _, id := range g.EventIDs {
		member, err := repo.GetEvent(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, member.CorrelationGroupID)
		assert.Equal(t, g.ID, *member.CorrelationGroupID)
	}
}

func TestCorrelateSameSourceNeverMerges(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base.Add(15*time.Second))
	ctx := context.Background()

	first := insertEvent(t, repo, models.SourceAccess, "ext-1", base)
	require.NoError(t, eng.Correlate(ctx, first))

	second := insertEvent(t, repo, models.SourceAccess, "ext-2", base.Add(10*time.Second))
	require.NoError(t, eng.Correlate(ctx, second))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.Len(t, g.EventIDs, 1)
	}
}

func TestCorrelateSpanBeyondWindowStartsNewGroup(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	// Keep the first group open by wall clock so only the span check can
	// reject the second event.
	eng, repo := newTestEngine(t, 60*time.Second, base.Add(25*time.Second))
	ctx := context.Background()

	first := insertEvent(t, repo, models.SourceAccess, "ext-1", base)
	require.NoError(t, eng.Correlate(ctx, first))

	// 70s after the first member, span would exceed the 60s width.
	late := insertEvent(t, repo, models.SourceProtect, "ext-2", base.Add(70*time.Second))
	require.NoError(t, eng.Correlate(ctx, late))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestCorrelateClosedGroupIgnored(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base)
	ctx := context.Background()

	first := insertEvent(t, repo, models.SourceAccess, "ext-1", base)
	require.NoError(t, eng.Correlate(ctx, first))

	// Wall clock passes the group's window_end (base+30s); an in-span but
	// late-arriving event starts a fresh group.
	eng.now = func() time.Time { return base.Add(45 * time.Second) }

	late := insertEvent(t, repo, models.SourceProtect, "ext-2", base.Add(10*time.Second))
	require.NoError(t, eng.Correlate(ctx, late))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestCorrelateLateArrivalExtendsWindowStart(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base.Add(25*time.Second))
	ctx := context.Background()

	first := insertEvent(t, repo, models.SourceAccess, "ext-1", base.Add(20*time.Second))
	require.NoError(t, eng.Correlate(ctx, first))

	// Occurred before the existing member but arrives later.
	early := insertEvent(t, repo, models.SourceProtect, "ext-2", base)
	require.NoError(t, eng.Correlate(ctx, early))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, base.Add(-30*time.Second), groups[0].WindowStart)
	assert.Equal(t, base.Add(50*time.Second), groups[0].WindowEnd)
}

func TestCorrelateClosestCentroidWins(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base.Add(1*time.Second))
	ctx := context.Background()

	// Two single-member access groups at t=0 and t=40.
	a1 := insertEvent(t, repo, models.SourceAccess, "ext-1", base)
	require.NoError(t, eng.Correlate(ctx, a1))
	a2 := insertEvent(t, repo, models.SourceAccess, "ext-2", base.Add(40*time.Second))
	require.NoError(t, eng.Correlate(ctx, a2))

	// A protect event at t=35 fits both; the t=40 group's centroid is closer.
	p := insertEvent(t, repo, models.SourceProtect, "ext-3", base.Add(35*time.Second))
	require.NoError(t, eng.Correlate(ctx, p))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	joined, err := repo.GetEvent(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, joined.CorrelationGroupID)

	a2Stored, err := repo.GetEvent(ctx, a2.ID)
	require.NoError(t, err)
	require.NotNil(t, a2Stored.CorrelationGroupID)
	assert.Equal(t, *a2Stored.CorrelationGroupID, *joined.CorrelationGroupID)
}

func TestCorrelateNoLocationSkipped(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base)
	ctx := context.Background()

	e := &models.Event{
		Source:     models.SourceProtect,
		ExternalID: "ext-1",
		Action:     models.ActionMotion,
		OccurredAt: base,
	}
	inserted, err := repo.InsertEventIfAbsent(ctx, e)
	require.NoError(t, err)
	require.True(t, inserted)

	require.NoError(t, eng.Correlate(ctx, e))

	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestCorrelateConcurrentSameLocation(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	eng, repo := newTestEngine(t, 60*time.Second, base.Add(time.Second))
	ctx := context.Background()

	events := make([]*models.Event, 0, 2)
	events = append(events,
		insertEvent(t, repo, models.SourceAccess, "ext-1", base),
		insertEvent(t, repo, models.SourceProtect, "ext-2", base.Add(5*time.Second)),
	)

	var wg sync.WaitGroup
	errs := make([]error, len(events))
	for i, e := range events {
		wg.Add(1)
		go func(i int, e *models.Event) {
			defer wg.Done()
			errs[i] = eng.Correlate(ctx, e)
		}(i, e)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, fmt.Sprintf("correlate %d", i))
	}

	// Per-location serialization means exactly one group holds both.
	groups, err := repo.ListGroups(ctx, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].EventIDs, 2)
}
