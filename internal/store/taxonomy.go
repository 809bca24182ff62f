package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/core/db"
	"basegraph.app/categorizer/internal/model"
)

const (
	createLabelsTable = `CREATE TABLE IF NOT EXISTS labels (
	id BIGSERIAL PRIMARY KEY,
	label_key VARCHAR(255) NOT NULL UNIQUE,
	label_value TEXT NOT NULL
)`
	selectLabels = `SELECT id, label_key, label_value FROM labels ORDER BY id`
	insertLabel  = `INSERT INTO labels (label_key, label_value) VALUES ($1, $2) ON CONFLICT (label_key) DO NOTHING`
)

type taxonomyStore struct {
	db    *db.DB
	retry retry.Policy
}

func NewTaxonomyStore(database *db.DB, policy retry.Policy) TaxonomyStore {
	return &taxonomyStore{db: database, retry: policy}
}

func (s *taxonomyStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Querier().Exec(ctx, createLabelsTable); err != nil {
		return fmt.Errorf("creating labels table: %w", err)
	}
	return nil
}

func (s *taxonomyStore) Load(ctx context.Context) (model.Taxonomy, error) {
	labels, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	taxonomy := make(model.Taxonomy, len(labels))
	for _, l := range labels {
		taxonomy[l.Key] = l.Description
	}
	return taxonomy, nil
}

func (s *taxonomyStore) List(ctx context.Context) ([]model.Label, error) {
	return retry.Do(ctx, s.retry, "store.list_labels", retry.Transient,
		func(ctx context.Context) ([]model.Label, error) {
			rows, err := s.db.Querier().Query(ctx, selectLabels)
			if err != nil {
				return nil, fmt.Errorf("querying labels: %w", err)
			}
			defer rows.Close()

			var labels []model.Label
			for rows.Next() {
				var l model.Label
				if err := rows.Scan(&l.ID, &l.Key, &l.Description); err != nil {
					return nil, fmt.Errorf("scanning label: %w", err)
				}
				labels = append(labels, l)
			}
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("reading labels: %w", err)
			}
			return labels, nil
		})
}

func (s *taxonomyStore) InsertIfAbsent(ctx context.Context, key, value string) (bool, error) {
	return insertIfAbsent(ctx, s.db.Querier(), key, value)
}

func (s *taxonomyStore) Persist(ctx context.Context, taxonomy model.Taxonomy) (int, error) {
	keys := taxonomy.Keys()

	inserted, err := retry.Do(ctx, s.retry, "store.persist_labels", retry.Transient,
		func(ctx context.Context) (int, error) {
			n := 0
			err := s.db.WithTx(ctx, func(q db.Querier) error {
				for _, key := range keys {
					if strings.TrimSpace(key) == "" {
						continue
					}
					ok, err := insertIfAbsent(ctx, q, key, taxonomy[key])
					if err != nil {
						return err
					}
					if ok {
						n++
					}
				}
				return nil
			})
			return n, err
		})
	if err != nil {
		return 0, fmt.Errorf("persisting taxonomy: %w", err)
	}

	slog.InfoContext(ctx, "taxonomy persisted",
		"taxonomy_size", len(taxonomy),
		"inserted", inserted,
		"skipped", len(keys)-inserted)

	return inserted, nil
}

func insertIfAbsent(ctx context.Context, q db.Querier, key, value string) (bool, error) {
	tag, err := q.Exec(ctx, insertLabel, key, value)
	if err != nil {
		return false, fmt.Errorf("inserting label %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		slog.DebugContext(ctx, "label already exists, skipping", "label_key", key)
		return false, nil
	}
	return true, nil
}
