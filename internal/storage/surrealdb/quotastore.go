package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
)

const (
	tableQuota           = "quota"
	tableSessionOverride = "session_override"
)

type quotaRow struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Completed int    `json:"completed"`
}

type overrideRow struct {
	SessionID string `json:"session_id"`
	Level     int    `json:"level"`
}

// QuotaStore implements interfaces.QuotaLedger (C4) using SurrealDB. Budget
// math (base*(1+override_level) - completed) happens in Go against values
// read from two small per-session tables, rather than in SurrealQL, so the
// arithmetic mirrors the decision recorded in DESIGN.md exactly.
type QuotaStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewQuotaStore creates a new QuotaStore.
func NewQuotaStore(db *surrealdb.DB, logger *common.Logger) *QuotaStore {
	return &QuotaStore{db: db, logger: logger}
}

func quotaRecordID(sessionID string, kind models.Kind) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(tableQuota, fmt.Sprintf("%s_%s", sessionID, kind))
}

func overrideRecordID(sessionID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(tableSessionOverride, sessionID)
}

func (s *QuotaStore) completed(ctx context.Context, sessionID string, kind models.Kind) (int, error) {
	sql := "SELECT session_id, kind, completed FROM $rid"
	results, err := surrealdb.Query[[]quotaRow](ctx, s.db, sql, map[string]any{"rid": quotaRecordID(sessionID, kind)})
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Completed, nil
}

// Remaining returns base*(1+override_level) - completed, the linear
// multiplicative budget formula decided for the override-level open
// question (see DESIGN.md).
func (s *QuotaStore) Remaining(ctx context.Context, sessionID string, kind models.Kind, base int) (int, error) {
	completed, err := s.completed(ctx, sessionID, kind)
	if err != nil {
		return 0, err
	}
	level, err := s.GetOverrideLevel(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	budget := base * (1 + level)
	remaining := budget - completed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Increment atomically records one more completed unit for (session, kind).
func (s *QuotaStore) Increment(ctx context.Context, sessionID string, kind models.Kind) error {
	sql := `UPSERT $rid SET session_id = $session_id, kind = $kind, completed += 1`
	vars := map[string]any{
		"rid":        quotaRecordID(sessionID, kind),
		"session_id": sessionID,
		"kind":       kind,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to increment quota counter: %w", err)
	}
	return nil
}

// GetOverrideLevel returns 0 when no override record exists for the session.
func (s *QuotaStore) GetOverrideLevel(ctx context.Context, sessionID string) (int, error) {
	sql := "SELECT session_id, level FROM $rid"
	results, err := surrealdb.Query[[]overrideRow](ctx, s.db, sql, map[string]any{"rid": overrideRecordID(sessionID)})
	if err != nil {
		return 0, fmt.Errorf("failed to read override level: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Level, nil
}

// SetOverrideLevel is the admin operation that raises a session's quota
// budget multiplier.
func (s *QuotaStore) SetOverrideLevel(ctx context.Context, sessionID string, level int) error {
	sql := "UPSERT $rid SET session_id = $session_id, level = $level"
	vars := map[string]any{"rid": overrideRecordID(sessionID), "session_id": sessionID, "level": level}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set override level: %w", err)
	}
	return nil
}

func (s *QuotaStore) Close() error { return nil }

var _ interfaces.QuotaLedger = (*QuotaStore)(nil)
