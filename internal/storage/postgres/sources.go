package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

const sourceColumns = `id, url, name, file_name, state, processed_at, created_at, updated_at`

func scanSource(row pgx.Row) (watch.Source, error) {
	var (
		src       watch.Source
		state     string
		processed pgtype.Timestamptz
	)
	if err := row.Scan(
		&src.ID,
		&src.URL,
		&src.Name,
		&src.FileName,
		&state,
		&processed,
		&src.CreatedAt,
		&src.UpdatedAt,
	); err != nil {
		return watch.Source{}, err
	}
	src.State = watch.SourceState(state)
	src.ProcessedAt = timePtr(processed)
	return src, nil
}

// FindSourceByURL returns the source stored under url.
func (s *Store) FindSourceByURL(ctx context.Context, url string) (watch.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE url = $1`
	src, err := scanSource(s.pool.QueryRow(ctx, query, url))
	if err != nil {
		return watch.Source{}, fmt.Errorf("find source %q: %w", url, notFound(err))
	}
	return src, nil
}

// CreateSource inserts source and fills its ID and timestamps.
func (s *Store) CreateSource(ctx context.Context, source *watch.Source) error {
	if source.State == "" {
		source.State = watch.SourceStateOK
	}
	query := `
		INSERT INTO sources (url, name, file_name, state)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at;
	`
	err := s.pool.QueryRow(ctx, query, source.URL, source.Name, source.FileName, string(source.State)).
		Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create source %q: %w", source.URL, watch.ErrDuplicateSource)
		}
		return fmt.Errorf("create source %q: %w", source.URL, err)
	}
	return nil
}

// UpdateSourceState persists a new state for the source.
func (s *Store) UpdateSourceState(ctx context.Context, id int64, state watch.SourceState) error {
	query := `UPDATE sources SET state = $1, updated_at = now() WHERE id = $2;`
	res, err := s.pool.Exec(ctx, query, string(state), id)
	if err != nil {
		return fmt.Errorf("update source %d state: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("update source %d state: %w", id, watch.ErrNotFound)
	}
	return nil
}

// NextPendingSource returns the oldest unprocessed source in state OK.
func (s *Store) NextPendingSource(ctx context.Context) (watch.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources
		WHERE processed_at IS NULL AND state = 'OK'
		ORDER BY created_at, id
		LIMIT 1`
	src, err := scanSource(s.pool.QueryRow(ctx, query))
	if err != nil {
		return watch.Source{}, fmt.Errorf("next pending source: %w", notFound(err))
	}
	return src, nil
}

// MarkSourceInvalid flags the source INVALID_PDF and stamps it processed.
func (s *Store) MarkSourceInvalid(ctx context.Context, id int64, processedAt time.Time) error {
	query := `UPDATE sources SET state = $1, processed_at = $2, updated_at = $2 WHERE id = $3;`
	res, err := s.pool.Exec(ctx, query, string(watch.SourceStateInvalidPDF), processedAt, id)
	if err != nil {
		return fmt.Errorf("mark source %d invalid: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("mark source %d invalid: %w", id, watch.ErrNotFound)
	}
	return nil
}

// SaveParsedNumbers stores the numbers and stamps the source processed in one transaction.
func (s *Store) SaveParsedNumbers(
	ctx context.Context,
	sourceID int64,
	numbers []watch.InfoNumber,
	processedAt time.Time,
) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if len(numbers) > 0 {
			rows := make([][]any, 0, len(numbers))
			for _, n := range numbers {
				rows = append(rows, []any{n.Number, n.Code, n.Year, sourceID})
			}
			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"info_numbers"},
				[]string{"number", "code", "year", "source_id"},
				pgx.CopyFromRows(rows),
			)
			if err != nil {
				return fmt.Errorf("insert info numbers for source %d: %w", sourceID, err)
			}
		}
		res, err := tx.Exec(ctx,
			`UPDATE sources SET processed_at = $1, updated_at = $1 WHERE id = $2;`,
			processedAt, sourceID,
		)
		if err != nil {
			return fmt.Errorf("mark source %d processed: %w", sourceID, err)
		}
		if res.RowsAffected() == 0 {
			return fmt.Errorf("mark source %d processed: %w", sourceID, watch.ErrNotFound)
		}
		return nil
	})
}
