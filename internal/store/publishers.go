package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// FindPublisherByName returns the publisher with exactly this name, or nil
func (s *Store) FindPublisherByName(ctx context.Context, name string) (*Publisher, error) {
	p := &Publisher{}
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, name FROM publishers WHERE name = ? LIMIT 1"), name).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find publisher %q: %w", name, err)
	}
	return p, nil
}

// FindOrCreatePublisher looks a publisher up by name and inserts it when
// missing. A lost insert race is resolved by reading the row back.
func (s *Store) FindOrCreatePublisher(ctx context.Context, name string) (*Publisher, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	p, err := s.FindPublisherByName(ctx, name)
	if err != nil || p != nil {
		return p, err
	}

	p = &Publisher{Name: name}
	err = s.db.QueryRowContext(ctx, s.rebind(
		"INSERT INTO publishers (name) VALUES (?) ON CONFLICT DO NOTHING RETURNING id"), name).Scan(&p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.FindPublisherByName(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert publisher %q: %w", name, err)
	}
	return p, nil
}
