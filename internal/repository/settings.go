package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dan9191/loan-servicing/internal/models"
)

// LoadSetting returns the highest stored version of key.
func (r *Repository) LoadSetting(ctx context.Context, key models.SettingKey) (models.Setting, error) {
	query := `
		SELECT payload
		FROM servicing.settings
		WHERE key = $1
		ORDER BY version DESC
		LIMIT 1`
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, string(key)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ConfigurationError("setting %s is not configured", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	return models.DecodeSetting(key, payload)
}

// SaveSetting stores s as the next version of its key and returns that version.
func (r *Repository) SaveSetting(ctx context.Context, s models.Setting) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("failed to encode setting %s: %w", s.Key(), err)
	}
	query := `
		INSERT INTO servicing.settings (key, version, payload, updated_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, CURRENT_TIMESTAMP
		FROM servicing.settings
		WHERE key = $1
		RETURNING version`
	var version int
	err = r.db.QueryRowContext(ctx, query, string(s.Key()), payload).Scan(&version)
	if isUniqueViolation(err) {
		return 0, models.ConflictError("setting %s was updated concurrently", s.Key())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save setting %s: %w", s.Key(), err)
	}
	return version, nil
}

// SeedSettings stores every setting whose key has no version yet and returns
// the keys it wrote. Existing settings are never overwritten.
func (r *Repository) SeedSettings(ctx context.Context, settings []models.Setting) ([]models.SettingKey, error) {
	var seeded []models.SettingKey
	for _, s := range settings {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM servicing.settings WHERE key = $1)`, string(s.Key())).Scan(&exists)
		if err != nil {
			return seeded, fmt.Errorf("failed to check setting %s: %w", s.Key(), err)
		}
		if exists {
			continue
		}
		if _, err := r.SaveSetting(ctx, s); err != nil {
			return seeded, err
		}
		seeded = append(seeded, s.Key())
	}
	return seeded, nil
}
