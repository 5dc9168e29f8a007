package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomlocal/loom/pkg/provider"
)

// ProviderRecord is a configured model endpoint
type ProviderRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	APIBase      string    `json:"api_base"`
	APIKey       string    `json:"api_key,omitempty"`
	DefaultModel string    `json:"default_model"`
	Models       []string  `json:"models"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

// Config converts the record into the runtime provider configuration
func (r *ProviderRecord) Config() provider.Config {
	return provider.Config{
		ID:           r.ID,
		Name:         r.Name,
		APIBase:      r.APIBase,
		APIKey:       r.APIKey,
		DefaultModel: r.DefaultModel,
		Models:       r.Models,
		IsDefault:    r.IsDefault,
	}
}

// SaveProvider inserts or updates a provider by name. Marking one
// default clears the flag on the others.
func (s *Store) SaveProvider(ctx context.Context, rec *ProviderRecord) (*ProviderRecord, error) {
	models, err := json.Marshal(rec.Models)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (name, api_base, api_key, default_model, models, is_default)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		        api_base = excluded.api_base,
		        api_key = excluded.api_key,
		        default_model = excluded.default_model,
		        models = excluded.models,
		        is_default = excluded.is_default`,
		rec.Name, rec.APIBase, rec.APIKey, rec.DefaultModel, string(models), rec.IsDefault)
	if err != nil {
		return nil, fmt.Errorf("failed to save provider %q: %w", rec.Name, err)
	}
	if rec.IsDefault {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE providers SET is_default = 0 WHERE name != ?`, rec.Name); err != nil {
			return nil, err
		}
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		rec.ID = id
	}
	return s.GetProviderByName(ctx, rec.Name)
}

// GetProviderByName loads one provider record
func (s *Store) GetProviderByName(ctx context.Context, name string) (*ProviderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_base, api_key, default_model, models, is_default, created_at
		 FROM providers WHERE name = ?`, name)
	rec, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("provider %q not found", name)
	}
	return rec, err
}

// ListProviders returns every configured provider
func (s *Store) ListProviders(ctx context.Context) ([]*ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, api_base, api_key, default_model, models, is_default, created_at
		 FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var out []*ProviderRecord
	for rows.Next() {
		rec, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteProvider removes a provider by id
func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider %d: %w", id, err)
	}
	return nil
}

func scanProvider(row rowScanner) (*ProviderRecord, error) {
	var rec ProviderRecord
	var models string
	err := row.Scan(&rec.ID, &rec.Name, &rec.APIBase, &rec.APIKey,
		&rec.DefaultModel, &models, &rec.IsDefault, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(models), &rec.Models); err != nil {
		rec.Models = nil
	}
	return &rec, nil
}
