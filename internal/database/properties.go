package database

import (
	"context"
	"fmt"
	"time"

	"rentflow/internal/domain"
	"rentflow/internal/models"
)

// SyncProperties upserts the configured catalog and resets the in-memory cache.
func (db *DB) SyncProperties(ctx context.Context, properties []models.Property) error {
	query := `INSERT INTO properties (id, owner_id, title, monthly_rent, is_active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				owner_id = excluded.owner_id,
				title = excluded.title,
				monthly_rent = excluded.monthly_rent,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for i := range properties {
		p := &properties[i]
		if _, err := tx.ExecContext(ctx, db.dialect.q(query),
			p.ID, p.OwnerID, p.Title, p.MonthlyRent.StringFixed(2), p.IsActive, now,
		); err != nil {
			return fmt.Errorf("failed to sync property %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit properties: %w", err)
	}

	db.mu.Lock()
	db.propertiesCache = make(map[int64]*models.Property)
	db.cacheLoadedAt = time.Time{}
	db.mu.Unlock()

	db.logger.Info().Int("count", len(properties)).Msg("properties synced")
	return nil
}

// GetProperty serves from the cache while it is fresh.
func (db *DB) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	db.mu.RLock()
	p, ok := db.propertiesCache[id]
	fresh := time.Since(db.cacheLoadedAt) < db.cacheTTL
	db.mu.RUnlock()
	if ok && fresh {
		cp := *p
		return &cp, nil
	}

	if err := db.loadProperties(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	p, ok = db.propertiesCache[id]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("property %d: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (db *DB) ListProperties(ctx context.Context) ([]models.Property, error) {
	if err := db.loadProperties(ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]models.Property, 0, len(db.propertiesCache))
	for _, p := range db.propertiesCache {
		out = append(out, *p)
	}
	return out, nil
}

func (db *DB) loadProperties(ctx context.Context) error {
	rows, err := db.QueryContext(ctx, `SELECT id, owner_id, title, monthly_rent, is_active, updated_at FROM properties ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to load properties: %w", err)
	}
	defer rows.Close()

	cache := make(map[int64]*models.Property)
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &p.MonthlyRent, &p.IsActive, &p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan property: %w", err)
		}
		cache[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate properties: %w", err)
	}

	db.mu.Lock()
	db.propertiesCache = cache
	db.cacheLoadedAt = time.Now()
	db.mu.Unlock()
	return nil
}
