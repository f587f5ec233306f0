package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

const watchColumns = "id, number, code, year, user_id, info_number_id, enabled, search_at, label, created_at"

func scanWatch(row pgx.Row) (watch.UserNumber, error) {
	var (
		w        watch.UserNumber
		infoID   pgtype.Int8
		searchAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&w.ID,
		&w.Number,
		&w.Code,
		&w.Year,
		&w.UserID,
		&infoID,
		&w.Enabled,
		&searchAt,
		&w.Label,
		&w.CreatedAt,
	); err != nil {
		return watch.UserNumber{}, err
	}
	if infoID.Valid {
		id := infoID.Int64
		w.InfoNumberID = &id
	}
	w.SearchAt = timePtr(searchAt)
	return w, nil
}

// ListPendingWatches returns enabled, unmatched watches, never-searched first.
// A non-positive limit returns every pending watch.
func (s *Store) ListPendingWatches(ctx context.Context, limit int) ([]watch.UserNumber, error) {
	query := `
		SELECT ` + watchColumns + `
		FROM user_numbers
		WHERE enabled AND info_number_id IS NULL
		ORDER BY search_at ASC NULLS FIRST, id ASC
		LIMIT $1;
	`
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("list pending watches: %w", err)
	}
	defer rows.Close()

	var out []watch.UserNumber
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch row: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending watches: %w", err)
	}
	return out, nil
}

// SaveWatchResults writes search timestamps and matches in one transaction.
// Rows matched by a concurrent run keep their existing match.
func (s *Store) SaveWatchResults(ctx context.Context, watches []watch.UserNumber) error {
	if len(watches) == 0 {
		return nil
	}
	query := `
		UPDATE user_numbers
		SET search_at = $1, info_number_id = $2
		WHERE id = $3 AND info_number_id IS NULL;
	`
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, w := range watches {
			if _, err := tx.Exec(ctx, query, w.SearchAt, w.InfoNumberID, w.ID); err != nil {
				return fmt.Errorf("save watch %d: %w", w.ID, err)
			}
		}
		return nil
	})
}

// WatchExists reports whether the user already watches id.
func (s *Store) WatchExists(ctx context.Context, userID int64, id watch.Identifier) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_numbers
			WHERE user_id = $1 AND number = $2 AND code = $3 AND year = $4
		);
	`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, userID, id.Number, id.Code, id.Year).Scan(&exists); err != nil {
		return false, fmt.Errorf("check watch %s for user %d: %w", id, userID, err)
	}
	return exists, nil
}

// CreateWatch inserts w and fills its ID and creation time.
func (s *Store) CreateWatch(ctx context.Context, w *watch.UserNumber) error {
	query := `
		INSERT INTO user_numbers (number, code, year, user_id, enabled, label)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at;
	`
	err := s.pool.QueryRow(ctx, query, w.Number, w.Code, w.Year, w.UserID, w.Enabled, w.Label).
		Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create watch %s for user %d: %w", w.Identifier, w.UserID, err)
	}
	return nil
}

// GetWatch loads one watch by id.
func (s *Store) GetWatch(ctx context.Context, id int64) (watch.UserNumber, error) {
	query := `SELECT ` + watchColumns + ` FROM user_numbers WHERE id = $1;`
	w, err := scanWatch(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return watch.UserNumber{}, fmt.Errorf("get watch %d: %w", id, notFound(err))
	}
	return w, nil
}

// SetWatchEnabled enables or disables a watch owned by userID.
func (s *Store) SetWatchEnabled(ctx context.Context, userID, id int64, enabled bool) error {
	query := `UPDATE user_numbers SET enabled = $1 WHERE id = $2 AND user_id = $3;`
	res, err := s.pool.Exec(ctx, query, enabled, id, userID)
	if err != nil {
		return fmt.Errorf("set watch %d enabled: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("set watch %d enabled: %w", id, watch.ErrNotFound)
	}
	return nil
}

// DeleteWatch removes a watch owned by userID.
func (s *Store) DeleteWatch(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM user_numbers WHERE id = $1 AND user_id = $2;`
	res, err := s.pool.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete watch %d: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("delete watch %d: %w", id, watch.ErrNotFound)
	}
	return nil
}
