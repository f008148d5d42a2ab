package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FindMediaAssetByChecksum returns the asset of a system with this checksum, or nil
func (s *Store) FindMediaAssetByChecksum(ctx context.Context, systemID int64, checksum string) (*MediaAsset, error) {
	a := &MediaAsset{}
	var (
		width, height               sql.NullInt64
		format, license, licenseURL sql.NullString
		sum                         sql.NullString
		created                     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, game_system_id, public_id, secure_url, width, height, format,
		       license, license_url, kind, order_index, moderated, checksum, created_at
		FROM media_assets
		WHERE game_system_id = ? AND checksum = ?
		LIMIT 1
	`), systemID, checksum).Scan(
		&a.ID, &a.GameSystemID, &a.PublicID, &a.SecureURL, &width, &height, &format,
		&license, &licenseURL, &a.Kind, &a.OrderIndex, &a.Moderated, &sum, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find media asset: %w", err)
	}

	a.Width = int(width.Int64)
	a.Height = int(height.Int64)
	a.Format = format.String
	a.License = license.String
	a.LicenseURL = licenseURL.String
	a.Checksum = sum.String
	a.CreatedAt = created.Time
	return a, nil
}

// InsertMediaAsset stores a new asset and sets a.ID.
// A concurrent insert of the same (system, checksum) resolves to the existing row.
func (s *Store) InsertMediaAsset(ctx context.Context, a *MediaAsset) error {
	if a.Kind == "" {
		a.Kind = "hero"
	}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO media_assets (
			game_system_id, public_id, secure_url, width, height, format,
			license, license_url, kind, order_index, moderated, checksum, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id
	`), a.GameSystemID, a.PublicID, a.SecureURL, nullInt(a.Width), nullInt(a.Height), nullString(a.Format),
		nullString(a.License), nullString(a.LicenseURL), a.Kind, a.OrderIndex, a.Moderated,
		nullString(a.Checksum), time.Now().UTC(),
	).Scan(&a.ID)

	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := s.FindMediaAssetByChecksum(ctx, a.GameSystemID, a.Checksum)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return fmt.Errorf("failed to insert media asset for system %d: conflict without existing row", a.GameSystemID)
		}
		a.ID = existing.ID
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert media asset for system %d: %w", a.GameSystemID, err)
	}
	return nil
}

// CountMediaAssets returns the number of assets attached to a system
func (s *Store) CountMediaAssets(ctx context.Context, systemID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM media_assets WHERE game_system_id = ?"), systemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count media assets: %w", err)
	}
	return n, nil
}
