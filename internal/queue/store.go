package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"curator/internal/config"
	"curator/internal/services"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	policy RetryPolicy
	now    func() time.Time
}

// RetryPolicy controls how failed jobs re-enter the pending set.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	CapDelay   time.Duration
}

// Open initializes or connects to the queue database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "queue.db")
	// Pragmas in the DSN apply to every connection database/sql opens;
	// db.Exec below only reaches the one connection that runs it.
	// _txlock=immediate makes BeginTx take the write lock up front so
	// busy_timeout is honored instead of an instant SQLITE_BUSY on upgrade.
	dsn := "file:" + dbPath + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:   db,
		path: dbPath,
		policy: RetryPolicy{
			MaxRetries: cfg.Queue.MaxRetries,
			BaseDelay:  time.Duration(cfg.Queue.RetryBaseSeconds) * time.Second,
			CapDelay:   time.Duration(cfg.Queue.RetryCapSeconds) * time.Second,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the store's time source (used in tests).
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Spec describes a job to enqueue.
type Spec struct {
	Payload  Payload
	Priority Priority
	Manual   bool
}

// Enqueue validates the payload and inserts a pending job.
func (s *Store) Enqueue(ctx context.Context, spec Spec) (*Job, error) {
	if spec.Payload == nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "payload is required", nil)
	}
	if err := spec.Payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "encode payload", err)
	}

	now := s.now()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (type, priority, payload, status, retry_count, max_retries, manual, created_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		string(spec.Payload.JobType()),
		int(spec.Priority),
		string(raw),
		StatusPending,
		s.policy.MaxRetries,
		boolToInt(spec.Manual),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ClaimNext atomically selects the oldest claimable pending job with the
// lowest priority number, flips it to processing, and returns it. Safe under
// concurrent callers: the select-and-flip happens in one immediate
// transaction, so no two workers ever receive the same job.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status = ? AND (not_before IS NULL OR not_before <= ?)
         ORDER BY priority ASC, created_at ASC, id ASC LIMIT 1`,
		StatusPending,
		now.Format(time.RFC3339Nano),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing,
		now.Format(time.RFC3339Nano),
		job.ID,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("mark job processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Another claimer won the row between select and update.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = StatusProcessing
	started := now
	job.StartedAt = &started
	return job, nil
}

// Complete archives a finished job and removes it from the active set.
func (s *Store) Complete(ctx context.Context, id int64) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "queue", "complete", fmt.Sprintf("job %d not found", id), nil)
	}
	return s.archiveAndRemove(ctx, job, ResultCompleted, "")
}

// Fail records a job failure. While retry budget remains and the error is
// retryable, the job reverts to pending with a growing not-before delay;
// otherwise it is archived as a terminal failure. Returns true when the job
// was requeued.
func (s *Store) Fail(ctx context.Context, id int64, message string, retryable bool) (bool, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, services.Wrap(services.ErrNotFound, "queue", "fail", fmt.Sprintf("job %d not found", id), nil)
	}

	if retryable && job.RetryCount < job.MaxRetries {
		notBefore := s.now().Add(s.retryDelay(job.RetryCount))
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, retry_count = retry_count + 1, error_message = ?,
                 not_before = ?, started_at = NULL
             WHERE id = ?`,
			StatusPending,
			nullableString(message),
			notBefore.Format(time.RFC3339Nano),
			id,
		)
		if err != nil {
			return false, fmt.Errorf("requeue failed job: %w", err)
		}
		return true, nil
	}

	if err := s.archiveAndRemove(ctx, job, ResultFailed, message); err != nil {
		return false, err
	}
	return false, nil
}

// ResetStalled flips every processing job back to pending. Run once at
// startup so a process restart never silently drops in-flight work.
func (s *Store) ResetStalled(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, started_at = NULL WHERE status = ?`,
		StatusPending,
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stalled jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetByID fetches an active job by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns active jobs ordered by priority then age, optionally filtered
// by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY priority ASC, created_at ASC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats reports pending/processing counts and the oldest pending age.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var oldestRaw sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM jobs WHERE status = ?`, StatusPending)
	if err := row.Scan(&oldestRaw); err != nil {
		return stats, fmt.Errorf("oldest pending: %w", err)
	}
	if oldestRaw.Valid {
		if oldest, err := parseTimeString(oldestRaw.String); err == nil {
			age := s.now().Sub(oldest)
			if age > 0 {
				stats.OldestPendingAge = age
			}
		}
	}
	return stats, nil
}

// History returns archived jobs, most recently finished first.
func (s *Store) History(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, type, priority, payload, result, retry_count, manual, error_message, created_at, finished_at
         FROM job_history ORDER BY finished_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PruneHistory removes archived jobs finished before the cutoff.
func (s *Store) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM job_history WHERE finished_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes an active job without archiving it.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) retryDelay(retryCount int) time.Duration {
	delay := s.policy.BaseDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if s.policy.CapDelay > 0 && delay >= s.policy.CapDelay {
			return s.policy.CapDelay
		}
	}
	if s.policy.CapDelay > 0 && delay > s.policy.CapDelay {
		delay = s.policy.CapDelay
	}
	return delay
}

func (s *Store) archiveAndRemove(ctx context.Context, job *Job, result Result, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if message == "" {
		message = job.ErrorMessage
	}
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO job_history (job_id, type, priority, payload, result, retry_count, manual, error_message, created_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Type),
		int(job.Priority),
		string(job.Payload),
		string(result),
		job.RetryCount,
		boolToInt(job.Manual),
		nullableString(message),
		job.CreatedAt.Format(time.RFC3339Nano),
		s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
		return fmt.Errorf("remove archived job: %w", err)
	}
	return tx.Commit()
}

const jobColumns = "id, type, priority, payload, status, retry_count, max_retries, manual, error_message, not_before, created_at, started_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		typeStr      string
		priority     int
		payload      string
		statusStr    string
		retryCount   int
		maxRetries   int
		manual       sql.NullInt64
		errorMessage sql.NullString
		notBeforeRaw sql.NullString
		createdRaw   sql.NullString
		startedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&typeStr,
		&priority,
		&payload,
		&statusStr,
		&retryCount,
		&maxRetries,
		&manual,
		&errorMessage,
		&notBeforeRaw,
		&createdRaw,
		&startedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Type:         Type(typeStr),
		Priority:     Priority(priority),
		Payload:      json.RawMessage(payload),
		Status:       Status(statusStr),
		RetryCount:   retryCount,
		MaxRetries:   maxRetries,
		ErrorMessage: errorMessage.String,
	}
	if manual.Valid {
		job.Manual = manual.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if notBeforeRaw.Valid {
		if nb, err := parseTimeString(notBeforeRaw.String); err == nil {
			job.NotBefore = &nb
		}
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	return job, nil
}

func scanHistory(scanner interface{ Scan(dest ...any) error }) (*HistoryEntry, error) {
	var (
		id           int64
		jobID        int64
		typeStr      string
		priority     int
		payload      string
		result       string
		retryCount   int
		manual       int
		errorMessage sql.NullString
		createdRaw   string
		finishedRaw  string
	)
	if err := scanner.Scan(&id, &jobID, &typeStr, &priority, &payload, &result, &retryCount, &manual, &errorMessage, &createdRaw, &finishedRaw); err != nil {
		return nil, err
	}
	entry := &HistoryEntry{
		ID:           id,
		JobID:        jobID,
		Type:         Type(typeStr),
		Priority:     Priority(priority),
		Payload:      json.RawMessage(payload),
		Result:       Result(result),
		RetryCount:   retryCount,
		Manual:       manual != 0,
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	if finished, err := parseTimeString(finishedRaw); err == nil {
		entry.FinishedAt = finished
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
