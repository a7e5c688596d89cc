package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbitflow/taskdaemon/internal/errkind"
	"github.com/orbitflow/taskdaemon/internal/task"
)

// PostgresStore is the durable Store backend, grounded on the teacher's
// store.PostgresStore: a pooled connection plus one upsert-by-primary-key
// query per write, tags/projects round-tripped through JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against connString.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "taskstore.postgres.connect", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "taskstore.postgres.connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "taskstore.postgres.ping", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Upsert(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tagsJSON, _ := json.Marshal(setToSlice(t.Tags))
	projectsJSON, _ := json.Marshal(setToSlice(t.Projects))

	const query = `
		INSERT INTO tasks (
			id, title, description, kind, required_minutes, estimated_minutes,
			fixed_start_at, fixed_end_at, window_start_at, window_end_at,
			state, elapsed_minutes, energy, priority, category,
			tags, projects, parent_task_id, segment_order, allow_split,
			created_at, updated_at, completed_at, paused_at,
			source_service, source_external_id
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description,
			kind = EXCLUDED.kind, required_minutes = EXCLUDED.required_minutes,
			estimated_minutes = EXCLUDED.estimated_minutes,
			fixed_start_at = EXCLUDED.fixed_start_at, fixed_end_at = EXCLUDED.fixed_end_at,
			window_start_at = EXCLUDED.window_start_at, window_end_at = EXCLUDED.window_end_at,
			state = EXCLUDED.state, elapsed_minutes = EXCLUDED.elapsed_minutes,
			energy = EXCLUDED.energy, priority = EXCLUDED.priority, category = EXCLUDED.category,
			tags = EXCLUDED.tags, projects = EXCLUDED.projects,
			parent_task_id = EXCLUDED.parent_task_id, segment_order = EXCLUDED.segment_order,
			allow_split = EXCLUDED.allow_split, updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at, paused_at = EXCLUDED.paused_at,
			source_service = EXCLUDED.source_service, source_external_id = EXCLUDED.source_external_id
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Title, t.Description, string(t.Kind), t.RequiredMinutes, t.EstimatedMinutes,
		t.FixedStartAt, t.FixedEndAt, t.WindowStartAt, t.WindowEndAt,
		string(t.State), t.ElapsedMinutes, string(t.Energy), t.Priority, string(t.Category),
		tagsJSON, projectsJSON, t.ParentTaskID, t.SegmentOrder, t.AllowSplit,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.PausedAt,
		t.SourceService, t.SourceExternalID,
	)
	if err != nil {
		return errkind.Wrap(errkind.KindStorage, "taskstore.postgres.upsert", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, selectColumns+" FROM tasks WHERE id = $1", id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errkind.New(errkind.KindValidation, "taskstore.postgres.get", "unknown task id "+id)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "taskstore.postgres.get", err)
	}
	return t, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return errkind.Wrap(errkind.KindStorage, "taskstore.postgres.delete", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*task.Task, error) {
	return s.query(ctx, selectColumns+" FROM tasks ORDER BY created_at ASC")
}

func (s *PostgresStore) ListByState(ctx context.Context, state task.State) ([]*task.Task, error) {
	return s.query(ctx, selectColumns+" FROM tasks WHERE state = $1 ORDER BY created_at ASC", string(state))
}

func (s *PostgresStore) ListBySource(ctx context.Context, service string) ([]*task.Task, error) {
	return s.query(ctx, selectColumns+" FROM tasks WHERE source_service = $1 ORDER BY created_at ASC", service)
}

func (s *PostgresStore) ListChildren(ctx context.Context, parentTaskID string) ([]*task.Task, error) {
	return s.query(ctx, selectColumns+" FROM tasks WHERE parent_task_id = $1 ORDER BY segment_order ASC", parentTaskID)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindStorage, "taskstore.postgres.query", err)
	}
	defer rows.Close()

	out := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errkind.Wrap(errkind.KindStorage, "taskstore.postgres.scan", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, title, description, kind, required_minutes, estimated_minutes,
		fixed_start_at, fixed_end_at, window_start_at, window_end_at,
		state, elapsed_minutes, energy, priority, category,
		tags, projects, parent_task_id, segment_order, allow_split,
		created_at, updated_at, completed_at, paused_at,
		source_service, source_external_id
`

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query).
type row interface {
	Scan(dest ...interface{}) error
}

func scanTask(r row) (*task.Task, error) {
	var t task.Task
	var kind, state, energy, category string
	var tagsJSON, projectsJSON []byte
	if err := r.Scan(
		&t.ID, &t.Title, &t.Description, &kind, &t.RequiredMinutes, &t.EstimatedMinutes,
		&t.FixedStartAt, &t.FixedEndAt, &t.WindowStartAt, &t.WindowEndAt,
		&state, &t.ElapsedMinutes, &energy, &t.Priority, &category,
		&tagsJSON, &projectsJSON, &t.ParentTaskID, &t.SegmentOrder, &t.AllowSplit,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.PausedAt,
		&t.SourceService, &t.SourceExternalID,
	); err != nil {
		return nil, err
	}
	t.Kind = task.Kind(kind)
	t.State = task.State(state)
	t.Energy = task.Energy(energy)
	t.Category = task.Category(category)
	t.Tags = sliceToSet(tagsJSON)
	t.Projects = sliceToSet(projectsJSON)
	return &t, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func sliceToSet(raw []byte) map[string]struct{} {
	var items []string
	_ = json.Unmarshal(raw, &items)
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
