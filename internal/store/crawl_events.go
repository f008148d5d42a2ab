package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertCrawlEvent appends an audit row and sets e.ID
func (s *Store) InsertCrawlEvent(ctx context.Context, e *CrawlEvent) error {
	if e.Source == "" {
		e.Source = SourceBGG
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	var details sql.NullString
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("failed to encode crawl event details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO system_crawl_events (
			game_system_id, source, status, started_at, finished_at,
			severity, error_message, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), e.GameSystemID, e.Source, string(e.Status), e.StartedAt.UTC(), e.FinishedAt.UTC(),
		string(e.Severity), nullString(e.ErrorMessage), details,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert crawl event for system %d: %w", e.GameSystemID, err)
	}
	return nil
}

// CrawlEventRow is a crawl event joined with its system's name
type CrawlEventRow struct {
	CrawlEvent
	SystemName string
}

// RecentCrawlEvents returns the newest events first. A zero since means no lower bound.
func (s *Store) RecentCrawlEvents(ctx context.Context, since time.Time, limit int) ([]CrawlEventRow, error) {
	if limit <= 0 {
		limit = 20
	}
	if since.IsZero() {
		since = time.Unix(0, 0)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT e.id, e.game_system_id, e.source, e.status, e.started_at, e.finished_at,
		       e.severity, e.error_message, e.details, g.name
		FROM system_crawl_events e
		JOIN game_systems g ON g.id = e.game_system_id
		WHERE e.finished_at >= ?
		ORDER BY e.finished_at DESC, e.id DESC
		LIMIT ?
	`), since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl events: %w", err)
	}
	defer rows.Close()

	var out []CrawlEventRow
	for rows.Next() {
		var (
			r       CrawlEventRow
			status  string
			sev     string
			errMsg  sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.GameSystemID, &r.Source, &status, &r.StartedAt, &r.FinishedAt,
			&sev, &errMsg, &details, &r.SystemName); err != nil {
			return nil, fmt.Errorf("failed to scan crawl event: %w", err)
		}
		r.Status = CrawlStatus(status)
		r.Severity = CrawlSeverity(sev)
		r.ErrorMessage = errMsg.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &r.Details); err != nil {
				return nil, fmt.Errorf("failed to decode crawl event details: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountCrawlEvents returns the number of events recorded for a system
func (s *Store) CountCrawlEvents(ctx context.Context, systemID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM system_crawl_events WHERE game_system_id = ?"), systemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count crawl events: %w", err)
	}
	return n, nil
}
