package repo

import (
	"context"
	"database/sql"

	"solaire/internal/domain"
)

// NextSequenceTx atomically increments and returns the per-year reference
// sequence. SQLite's single-writer lock serializes concurrent callers, so
// two transactions can never observe the same value.
func (r Repo) NextSequenceTx(ctx context.Context, tx *sql.Tx, year int) (int, error) {
	_, err := tx.ExecContext(ctx, `INSERT INTO reference_counters(year,seq) VALUES (?,1) ON CONFLICT(year) DO UPDATE SET seq=seq+1`, year)
	if err != nil {
		return 0, err
	}
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT seq FROM reference_counters WHERE year=?`, year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r Repo) ListCounters(ctx context.Context) ([]domain.ReferenceCounter, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT year,seq FROM reference_counters ORDER BY year ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counters []domain.ReferenceCounter
	for rows.Next() {
		var c domain.ReferenceCounter
		if err := rows.Scan(&c.Year, &c.Seq); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}
