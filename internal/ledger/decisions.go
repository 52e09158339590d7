package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Outcome is the terminal or intermediate fate of a frame file.
type Outcome string

const (
	OutcomeBad       Outcome = "bad"
	OutcomeSolo      Outcome = "solo"
	OutcomeSynced    Outcome = "synced"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeRequeued  Outcome = "requeued"
	OutcomeFlushed   Outcome = "flushed"
	OutcomeVanished  Outcome = "vanished"
)

// Outcomes lists every outcome in display order.
var Outcomes = []Outcome{
	OutcomeSynced, OutcomeFlushed, OutcomeSolo, OutcomeRequeued,
	OutcomeDiscarded, OutcomeBad, OutcomeVanished,
}

// Decision is one ledger row.
type Decision struct {
	ID         int64     `json:"id"`
	PassID     string    `json:"pass_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	Camera     int       `json:"camera"`
	Stream     string    `json:"stream"`
	Path       string    `json:"path"`
	Outcome    Outcome   `json:"outcome"`
	Frames     int       `json:"frames"`
	Detail     string    `json:"detail,omitempty"`
}

// Fixed-width nanoseconds keep stored timestamps lexically ordered.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record appends a decision. A zero RecordedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, d Decision) error {
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO decisions (pass_id, recorded_at, camera, stream, path, outcome, frames, detail)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(d.PassID),
		d.RecordedAt.UTC().Format(timeLayout),
		d.Camera,
		d.Stream,
		d.Path,
		string(d.Outcome),
		d.Frames,
		nullableString(d.Detail),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Filter narrows Recent.
type Filter struct {
	Outcome Outcome
	PassID  string
	Limit   int
}

// Recent returns the newest decisions first.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Decision, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, pass_id, recorded_at, camera, stream, path, outcome, frames, detail
              FROM decisions WHERE 1=1`
	var args []any
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(f.Outcome))
	}
	if f.PassID != "" {
		query += " AND pass_id = ?"
		args = append(args, f.PassID)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d        Decision
			passID   sql.NullString
			recorded string
			outcome  string
			detail   sql.NullString
		)
		if err := rows.Scan(&d.ID, &passID, &recorded, &d.Camera, &d.Stream, &d.Path, &outcome, &d.Frames, &detail); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.PassID = passID.String
		d.Detail = detail.String
		d.Outcome = Outcome(outcome)
		if t, err := time.Parse(timeLayout, recorded); err == nil {
			d.RecordedAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Counts tallies outcomes recorded at or after since. A zero since counts everything.
func (s *Store) Counts(ctx context.Context, since time.Time) (map[Outcome]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(1) FROM decisions WHERE recorded_at >= ? GROUP BY outcome`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Prune deletes decisions recorded before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM decisions WHERE recorded_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
