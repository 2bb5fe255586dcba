// Package repository provides durable storage for events, correlation
// groups, and notification rules.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrGroupNotFound = errors.New("correlation group not found")
	ErrRuleNotFound  = errors.New("notification rule not found")
)

// Repository is the storage contract shared by the Postgres and in-memory
// implementations.
//
// InsertEventIfAbsent is the idempotence point of the whole pipeline: it must
// be atomic per (source, external_id) under concurrent duplicate deliveries,
// and the losing caller observes inserted=false and performs no further side
// effects.
type Repository interface {
	// Events
	InsertEventIfAbsent(ctx context.Context, event *models.Event) (inserted bool, err error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	QueryEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, int, error)
	SetEventIgnored(ctx context.Context, id string, ignored bool) error
	Summary(ctx context.Context, since time.Time) (*models.Summary, error)

	// Correlation groups
	CreateGroup(ctx context.Context, group *models.CorrelationGroup, seedEventID string) error
	AddGroupMember(ctx context.Context, groupID, eventID string, windowStart, windowEnd time.Time) error
	OpenGroupsByLocation(ctx context.Context, location string, asOf time.Time) ([]*models.CorrelationGroup, error)
	ListGroups(ctx context.Context, since, until *time.Time, limit int) ([]*models.CorrelationGroup, error)

	// Notification rules
	CreateRule(ctx context.Context, rule *models.NotificationRule) error
	GetRule(ctx context.Context, id string) (*models.NotificationRule, error)
	ListRules(ctx context.Context) ([]*models.NotificationRule, error)
	UpdateRule(ctx context.Context, rule *models.NotificationRule) error
	DeleteRule(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close()
}
