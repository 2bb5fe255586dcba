package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to PostgreSQL and verifies the connection.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const eventColumns = `
	id, source, external_id, action, raw_action, occurred_at, received_at,
	actor_id, actor_name, location, raw_payload, ignored, correlation_group_id`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var rawAction *string
	err := row.Scan(
		&e.ID,
		&e.Source,
		&e.ExternalID,
		&e.Action,
		&rawAction,
		&e.OccurredAt,
		&e.ReceivedAt,
		&e.ActorID,
		&e.ActorName,
		&e.Location,
		&e.RawPayload,
		&e.Ignored,
		&e.CorrelationGroupID,
	)
	if err != nil {
		return nil, err
	}
	if rawAction != nil {
		e.RawAction = *rawAction
	}
	return &e, nil
}

// InsertEventIfAbsent performs a conflict-free insert keyed on
// (source, external_id). The uniqueness constraint makes the duplicate check
// atomic under concurrent webhook retries; the second caller sees
// inserted=false.
func (r *PostgresRepository) InsertEventIfAbsent(ctx context.Context, event *models.Event) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if event.ID == "" {
		id, _ := uuid.NewV7()
		event.ID = id.String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO events
		(id, source, external_id, action, raw_action, occurred_at, received_at,
		 actor_id, actor_name, location, raw_payload, ignored)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source, external_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		event.ID,
		event.Source,
		event.ExternalID,
		event.Action,
		event.RawAction,
		event.OccurredAt,
		event.ReceivedAt,
		event.ActorID,
		event.ActorName,
		event.Location,
		event.RawPayload,
		event.Ignored,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// buildEventWhere translates an EventFilter into a WHERE clause and args.
func buildEventWhere(filter models.EventFilter) (string, []any) {
	clauses := make([]string, 0, 7)
	args := make([]any, 0, 7)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Source != "" {
		clauses = append(clauses, "source = "+arg(filter.Source))
	}
	if filter.Action != "" {
		clauses = append(clauses, "action ILIKE "+arg("%"+filter.Action+"%"))
	}
	if filter.Actor != "" {
		p := arg("%" + filter.Actor + "%")
		clauses = append(clauses, "(actor_id ILIKE "+p+" OR actor_name ILIKE "+p+")")
	}
	if filter.Location != "" {
		clauses = append(clauses, "location ILIKE "+arg("%"+filter.Location+"%"))
	}
	if filter.Since != nil {
		clauses = append(clauses, "occurred_at >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		clauses = append(clauses, "occurred_at < "+arg(*filter.Until))
	}
	if filter.Ignored != nil {
		clauses = append(clauses, "ignored = "+arg(*filter.Ignored))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *PostgresRepository) QueryEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	where, args := buildEventWhere(filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := "SELECT " + eventColumns + " FROM events" + where +
		" ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read events: %w", err)
	}
	return events, total, nil
}

func (r *PostgresRepository) SetEventIgnored(ctx context.Context, id string, ignored bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE events SET ignored = $2 WHERE id = $1`, id, ignored)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *PostgresRepository) Summary(ctx context.Context, since time.Time) (*models.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	summary := &models.Summary{
		Totals:    make(map[models.Source]int),
		Breakdown: []models.ActionCount{},
		TopActors: []models.ActorCount{},
		Recent:    []*models.Event{},
	}

	rows, err := r.pool.Query(ctx, `
		SELECT source, action, COUNT(*) AS count
		FROM events
		WHERE occurred_at >= $1 AND NOT ignored
		GROUP BY source, action
		ORDER BY count DESC, action ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query breakdown: %w", err)
	}
	for rows.Next() {
		var row models.ActionCount
		if err := rows.Scan(&row.Source, &row.Action, &row.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan breakdown: %w", err)
		}
		summary.Breakdown = append(summary.Breakdown, row)
		summary.Totals[row.Source] += row.Count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read breakdown: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT actor_id, COALESCE(actor_name, ''), COUNT(*) AS count
		FROM events
		WHERE occurred_at >= $1 AND NOT ignored AND actor_id IS NOT NULL
		GROUP BY actor_id, actor_name
		ORDER BY count DESC, actor_id ASC
		LIMIT 10
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query top actors: %w", err)
	}
	for rows.Next() {
		var row models.ActorCount
		if err := rows.Scan(&row.ActorID, &row.ActorName, &row.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan top actors: %w", err)
		}
		summary.TopActors = append(summary.TopActors, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read top actors: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE occurred_at >= $1 AND NOT ignored
		ORDER BY occurred_at DESC, id DESC
		LIMIT 10
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recent event: %w", err)
		}
		summary.Recent = append(summary.Recent, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}

	return summary, nil
}

// CreateGroup inserts a new single-member group and back-references it from
// the seed event inside one transaction.
func (r *PostgresRepository) CreateGroup(ctx context.Context, group *models.CorrelationGroup, seedEventID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if group.ID == "" {
		id, _ := uuid.NewV7()
		group.ID = id.String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.EventIDs = []string{seedEventID}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO correlation_groups (id, location, window_start, window_end, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, group.ID, group.Location, group.WindowStart, group.WindowEnd, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create correlation group: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE events SET correlation_group_id = $2 WHERE id = $1`,
		seedEventID, group.ID)
	if err != nil {
		return fmt.Errorf("failed to link seed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return tx.Commit(ctx)
}

// AddGroupMember extends the group's realized window and links the event,
// inside one transaction.
func (r *PostgresRepository) AddGroupMember(ctx context.Context, groupID, eventID string, windowStart, windowEnd time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE correlation_groups SET window_start = $2, window_end = $3 WHERE id = $1
	`, groupID, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("failed to update correlation group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}

	tag, err = tx.Exec(ctx, `UPDATE events SET correlation_group_id = $2 WHERE id = $1`,
		eventID, groupID)
	if err != nil {
		return fmt.Errorf("failed to link event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) OpenGroupsByLocation(ctx context.Context, location string, asOf time.Time) ([]*models.CorrelationGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.location, g.window_start, g.window_end, g.created_at,
		       COALESCE(array_agg(e.id ORDER BY e.occurred_at) FILTER (WHERE e.id IS NOT NULL), '{}')
		FROM correlation_groups g
		LEFT JOIN events e ON e.correlation_group_id = g.id
		WHERE g.location = $1 AND g.window_end > $2
		GROUP BY g.id
		ORDER BY g.created_at ASC
	`, location, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query open groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.CorrelationGroup, 0)
	for rows.Next() {
		var g models.CorrelationGroup
		if err := rows.Scan(&g.ID, &g.Location, &g.WindowStart, &g.WindowEnd, &g.CreatedAt, &g.EventIDs); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}
	return groups, nil
}

func (r *PostgresRepository) ListGroups(ctx context.Context, since, until *time.Time, limit int) ([]*models.CorrelationGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if since != nil {
		args = append(args, *since)
		clauses = append(clauses, fmt.Sprintf("g.window_end >= $%d", len(args)))
	}
	if until != nil {
		args = append(args, *until)
		clauses = append(clauses, fmt.Sprintf("g.window_start < $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.location, g.window_start, g.window_end, g.created_at,
		       COALESCE(array_agg(e.id ORDER BY e.occurred_at) FILTER (WHERE e.id IS NOT NULL), '{}')
		FROM correlation_groups g
		LEFT JOIN events e ON e.correlation_group_id = g.id`+where+`
		GROUP BY g.id
		ORDER BY g.created_at DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.CorrelationGroup, 0)
	for rows.Next() {
		var g models.CorrelationGroup
		if err := rows.Scan(&g.ID, &g.Location, &g.WindowStart, &g.WindowEnd, &g.CreatedAt, &g.EventIDs); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}

	// Resolve member events per group.
	for _, g := range groups {
		g.Events = make([]*models.Event, 0, len(g.EventIDs))
		for _, id := range g.EventIDs {
			event, err := r.GetEvent(ctx, id)
			if err != nil {
				if errors.Is(err, ErrEventNotFound) {
					continue
				}
				return nil, err
			}
			g.Events = append(g.Events, event)
		}
	}
	return groups, nil
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *models.NotificationRule) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if rule.ID == "" {
		id, _ := uuid.NewV7()
		rule.ID = id.String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_rules
		(id, name, source, action, target, target_url, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, rule.Name, string(rule.Source), rule.Action, rule.Target, rule.TargetURL,
		rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, id string) (*models.NotificationRule, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rule models.NotificationRule
	var source string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, source, action, target, target_url, enabled, created_at, updated_at
		FROM notification_rules WHERE id = $1
	`, id).Scan(&rule.ID, &rule.Name, &source, &rule.Action, &rule.Target,
		&rule.TargetURL, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	rule.Source = models.Source(source)
	return &rule, nil
}

func (r *PostgresRepository) ListRules(ctx context.Context) ([]*models.NotificationRule, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, source, action, target, target_url, enabled, created_at, updated_at
		FROM notification_rules
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.NotificationRule, 0)
	for rows.Next() {
		var rule models.NotificationRule
		var source string
		if err := rows.Scan(&rule.ID, &rule.Name, &source, &rule.Action, &rule.Target,
			&rule.TargetURL, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Source = models.Source(source)
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return rules, nil
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, rule *models.NotificationRule) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rule.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_rules
		SET name = $2, source = $3, action = $4, target = $5, target_url = $6,
		    enabled = $7, updated_at = $8
		WHERE id = $1
	`, rule.ID, rule.Name, string(rule.Source), rule.Action, rule.Target,
		rule.TargetURL, rule.Enabled, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
