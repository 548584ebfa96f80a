package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
)

func insertAuditWith(ctx context.Context, q queryer, e domain.AuditEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, entity_type, entity_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.EntityType, e.EntityID, e.Details, e.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insertAudit: %s %s: %w", e.Action, e.EntityID, err)
	}
	return nil
}

func listAuditWith(ctx context.Context, q queryer, userID string, limit int) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, user_id, action, entity_type, entity_id, details, timestamp
		FROM audit_log
		WHERE user_id = ?
		ORDER BY timestamp DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listAudit: query: %w", err)
	}
	defer rows.Close()

	out := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e  domain.AuditEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &e.Details, &ts); err != nil {
			return nil, fmt.Errorf("listAudit: scan: %w", err)
		}
		if e.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("listAudit: timestamp of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listAudit: iterating: %w", err)
	}
	return out, nil
}
