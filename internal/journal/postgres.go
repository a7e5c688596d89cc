package journal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/orbitflow/taskdaemon/internal/errkind"
)

// PostgresStore is the durable journal backend, grounded on the teacher's
// store.PostgresStore upsert-by-primary-key shape, with the sequence
// column driven by a Postgres sequence so restarts resume at max+1
// without a separate bookkeeping row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.connect", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.ping", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Append(ctx context.Context, t Transition) (*Entry, error) {
	payloadJSON, _ := json.Marshal(t.Payload)
	id := uuid.NewString()
	now := time.Now()

	const query = `
		INSERT INTO journal_entries (
			id, kind, task_id, from_task, to_task, from_timer, to_timer,
			session_id, event, category, operation, payload,
			status, sequence, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,
			nextval('journal_sequence'),$14,$14
		) RETURNING sequence
	`
	row := s.pool.QueryRow(ctx, query,
		id, string(t.Kind), t.TaskID, t.FromTask, t.ToTask, t.FromTimer, t.ToTimer,
		t.SessionID, t.Event, t.Category, t.Operation, payloadJSON,
		string(StatusPending), now,
	)
	var seq uint64
	if err := row.Scan(&seq); err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.append", err)
	}
	return &Entry{
		ID:         id,
		Transition: t,
		Status:     StatusPending,
		Sequence:   seq,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !validStatusTransition(entry.Status, status) {
		return errkind.New(errkind.KindValidation, "journal.postgres.update_status",
			"illegal transition "+string(entry.Status)+"->"+string(status)+" for entry "+id)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE journal_entries SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now(), id)
	if err != nil {
		return errkind.Wrap(errkind.KindStorage, "journal.postgres.update_status", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, selectColumns+" FROM journal_entries WHERE id = $1", id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errkind.New(errkind.KindValidation, "journal.postgres.get", "unknown journal entry "+id)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.get", err)
	}
	return e, nil
}

func (s *PostgresStore) GetPending(ctx context.Context) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, selectColumns+
		` FROM journal_entries WHERE status IN ($1,$2) ORDER BY sequence ASC`,
		string(StatusPending), string(StatusApplied))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.get_pending", err)
	}
	defer rows.Close()

	out := make([]*Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.KindStorage, "journal.postgres.scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Checkpoint(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, StatusCommitted, "")
}

func (s *PostgresStore) Rollback(ctx context.Context, id string, errMsg string) error {
	return s.UpdateStatus(ctx, id, StatusRolledBack, errMsg)
}

func (s *PostgresStore) Compact(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM journal_entries WHERE status = $1 AND updated_at < $2`,
		string(StatusCommitted), now.Add(-retention))
	if err != nil {
		return 0, errkind.Wrap(errkind.KindStorage, "journal.postgres.compact", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetStats(ctx context.Context) (Stats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = $3),
			count(*) FILTER (WHERE status = $4),
			coalesce(max(sequence), 0)
		FROM journal_entries
	`, string(StatusPending), string(StatusApplied), string(StatusCommitted), string(StatusRolledBack))

	var st Stats
	if err := row.Scan(&st.Total, &st.Pending, &st.Applied, &st.Committed, &st.RolledBack, &st.MaxSequence); err != nil {
		return Stats{}, errkind.Wrap(errkind.KindStorage, "journal.postgres.get_stats", err)
	}
	return st, nil
}

const selectColumns = `
	SELECT id, kind, task_id, from_task, to_task, from_timer, to_timer,
		session_id, event, category, operation, payload,
		status, sequence, created_at, updated_at, error
`

type row interface {
	Scan(dest ...interface{}) error
}

func scanEntry(r row) (*Entry, error) {
	var e Entry
	var kind, status string
	var payloadJSON []byte
	if err := r.Scan(
		&e.ID, &kind, &e.Transition.TaskID, &e.Transition.FromTask, &e.Transition.ToTask,
		&e.Transition.FromTimer, &e.Transition.ToTimer,
		&e.Transition.SessionID, &e.Transition.Event,
		&e.Transition.Category, &e.Transition.Operation, &payloadJSON,
		&status, &e.Sequence, &e.CreatedAt, &e.UpdatedAt, &e.Error,
	); err != nil {
		return nil, err
	}
	e.Transition.Kind = TransitionKind(kind)
	e.Status = Status(status)
	if len(payloadJSON) > 0 {
		_ = json.Unmarshal(payloadJSON, &e.Transition.Payload)
	}
	return &e, nil
}
