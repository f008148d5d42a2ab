package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TaxonomyRow is an id/name pair from a category or mechanic table
type TaxonomyRow struct {
	ID   int64
	Name string
}

// ExternalMapping ties an external source's tag to a local taxonomy id
type ExternalMapping struct {
	Source      string
	ExternalTag string
	TaxonomyID  int64
}

// ListTaxonomy returns every row of the category or mechanic table
func (s *Store) ListTaxonomy(ctx context.Context, kind TaxonomyKind) ([]TaxonomyRow, error) {
	t, err := kind.tables()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM "+t.names+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.names, err)
	}
	defer rows.Close()

	var out []TaxonomyRow
	for rows.Next() {
		var r TaxonomyRow
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.names, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExternalMappings returns all external tag mappings for a source
func (s *Store) ListExternalMappings(ctx context.Context, kind TaxonomyKind, source string) ([]ExternalMapping, error) {
	t, err := kind.tables()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT source, external_tag, "+t.externalCol+" FROM "+t.external+" WHERE source = ?"), source)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.external, err)
	}
	defer rows.Close()

	var out []ExternalMapping
	for rows.Next() {
		var m ExternalMapping
		if err := rows.Scan(&m.Source, &m.ExternalTag, &m.TaxonomyID); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.external, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertTaxonomyName inserts a category or mechanic, ignoring duplicates
func (s *Store) InsertTaxonomyName(ctx context.Context, kind TaxonomyKind, name string) error {
	t, err := kind.tables()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO "+t.names+" (name) VALUES (?) ON CONFLICT DO NOTHING"), name)
	if err != nil {
		return fmt.Errorf("failed to insert %s %q: %w", kind, name, err)
	}
	return nil
}

// FindTaxonomyID returns the id of the row with exactly this name, or 0
func (s *Store) FindTaxonomyID(ctx context.Context, kind TaxonomyKind, name string) (int64, error) {
	t, err := kind.tables()
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id FROM "+t.names+" WHERE name = ? LIMIT 1"), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find %s %q: %w", kind, name, err)
	}
	return id, nil
}

// InsertExternalMapping records source/tag → id, ignoring an existing mapping
func (s *Store) InsertExternalMapping(ctx context.Context, kind TaxonomyKind, m ExternalMapping) error {
	t, err := kind.tables()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO "+t.external+" (source, external_tag, "+t.externalCol+") VALUES (?, ?, ?) ON CONFLICT DO NOTHING"),
		m.Source, m.ExternalTag, m.TaxonomyID)
	if err != nil {
		return fmt.Errorf("failed to insert %s mapping %q: %w", kind, m.ExternalTag, err)
	}
	return nil
}

// LinkTaxonomy attaches a category or mechanic to a game system idempotently
func (s *Store) LinkTaxonomy(ctx context.Context, kind TaxonomyKind, systemID, taxonomyID int64) error {
	t, err := kind.tables()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO "+t.join+" (game_system_id, "+t.joinColumn+") VALUES (?, ?) ON CONFLICT DO NOTHING"),
		systemID, taxonomyID)
	if err != nil {
		return fmt.Errorf("failed to link %s %d to system %d: %w", kind, taxonomyID, systemID, err)
	}
	return nil
}

// LinkedTaxonomyNames returns the names linked to a game system
func (s *Store) LinkedTaxonomyNames(ctx context.Context, kind TaxonomyKind, systemID int64) ([]string, error) {
	t, err := kind.tables()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT n.name FROM "+t.join+" j JOIN "+t.names+" n ON n.id = j."+t.joinColumn+
			" WHERE j.game_system_id = ? ORDER BY n.name"), systemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked %s: %w", kind, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
