package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// FindInfoNumber returns the first parsed number matching number and year. Code is ignored.
func (s *Store) FindInfoNumber(ctx context.Context, number int64, year int) (watch.InfoNumber, error) {
	query := `
		SELECT id, number, code, year, source_id, created_at
		FROM info_numbers
		WHERE number = $1 AND year = $2
		ORDER BY id
		LIMIT 1;
	`
	var n watch.InfoNumber
	err := s.pool.QueryRow(ctx, query, number, year).Scan(
		&n.ID,
		&n.Number,
		&n.Code,
		&n.Year,
		&n.SourceID,
		&n.CreatedAt,
	)
	if err != nil {
		return watch.InfoNumber{}, fmt.Errorf("find info number %d/%d: %w", number, year, notFound(err))
	}
	return n, nil
}
