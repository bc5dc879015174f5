package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const jobColumns = "id, status, created_at, updated_at, work_dir, client_id, options, error, progress, artifact_pages, artifact_bytes"

// Store はジョブ状態を SQLite に保存します。
type Store struct {
	db *sql.DB
}

// OpenStore は path の SQLite データベースを開き、スキーマを初期化します。
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc.org/sqlite は単一コネクションでの利用が安全
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id             TEXT PRIMARY KEY,
			status         TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			work_dir       TEXT NOT NULL DEFAULT '',
			client_id      TEXT NOT NULL DEFAULT '',
			options        TEXT NOT NULL DEFAULT '',
			error          TEXT NOT NULL DEFAULT '',
			progress       TEXT NOT NULL DEFAULT '',
			artifact_pages INTEGER NOT NULL DEFAULT 0,
			artifact_bytes INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Create はジョブを新規作成します。作成・更新時刻はここで設定されます。
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), now.UnixMilli(), now.UnixMilli(),
		job.WorkDir, job.ClientID, job.Options, job.Error, job.Progress,
		job.ArtifactPages, job.ArtifactBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get はジョブ情報を取得します。存在しない場合は (nil, nil) を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Update はジョブを部分更新します。updated_at は常に更新されます。
func (s *Store) Update(ctx context.Context, jobID string, upd Update) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}

	set := make([]string, 0, 7)
	args := make([]any, 0, 8)
	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.WorkDir != nil {
		set = append(set, "work_dir = ?")
		args = append(args, *upd.WorkDir)
	}
	if upd.Error != nil {
		set = append(set, "error = ?")
		args = append(args, *upd.Error)
	}
	if upd.Progress != nil {
		set = append(set, "progress = ?")
		args = append(args, *upd.Progress)
	}
	if upd.ArtifactPages != nil {
		set = append(set, "artifact_pages = ?")
		args = append(args, *upd.ArtifactPages)
	}
	if upd.ArtifactBytes != nil {
		set = append(set, "artifact_bytes = ?")
		args = append(args, *upd.ArtifactBytes)
	}
	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UnixMilli())
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job not found: %s", jobID)
	}
	return nil
}

// SetStatus はジョブの状態だけを更新します。
func (s *Store) SetStatus(ctx context.Context, jobID string, status Status) error {
	return s.Update(ctx, jobID, Update{Status: &status})
}

// UpdateProgress は処理中ジョブの進捗を更新します。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress string) error {
	status := StatusProcessing
	return s.Update(ctx, jobID, Update{Status: &status, Progress: &progress})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, message string) error {
	status := StatusFailed
	return s.Update(ctx, jobID, Update{Status: &status, Error: &message})
}

// MarkCompleted はジョブ完了時の情報を保存します。
func (s *Store) MarkCompleted(ctx context.Context, jobID string, pages int, size int64) error {
	status := StatusCompleted
	progress := ""
	return s.Update(ctx, jobID, Update{
		Status:        &status,
		Progress:      &progress,
		ArtifactPages: &pages,
		ArtifactBytes: &size,
	})
}

// ListOlderThan は cutoff より前に作成されたジョブを返します。
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE created_at < ? ORDER BY created_at`,
		cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return result, nil
}

// Delete はジョブレコードを削除します。存在しない場合はエラーにしません。
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// Ping はデータベースへの接続を確認します。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じます。
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		status    string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&job.ID, &status, &createdAt, &updatedAt,
		&job.WorkDir, &job.ClientID, &job.Options, &job.Error, &job.Progress,
		&job.ArtifactPages, &job.ArtifactBytes)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.CreatedAt = time.UnixMilli(createdAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)
	return &job, nil
}
