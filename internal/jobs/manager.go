// Package jobs は非同期ジョブ管理機能を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/config"
	"github.com/yourusername/tex-forge/internal/storage"
	"github.com/yourusername/tex-forge/internal/tex"
)

const (
	taskTypeCompile = "tex:compile"
	queueName       = "tex"
)

// Manager はジョブの受付・投入・状態管理を担います。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	store     *Store
	service   *tex.Service
	artifacts *storage.LocalStore
	logger    *zap.SugaredLogger
}

// TaskPayload は変換ジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, service *tex.Service, store *Store, artifacts *storage.LocalStore, logger *zap.SugaredLogger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if service == nil {
		return nil, errors.New("service is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if artifacts == nil {
		return nil, errors.New("artifacts is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.QueueConcurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:       cfg,
		client:    client,
		server:    server,
		mux:       mux,
		store:     store,
		service:   service,
		artifacts: artifacts,
		logger:    logger,
	}
	mux.HandleFunc(taskTypeCompile, manager.handleCompileTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Errorw("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown は実行中タスクの完了を待ってサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Submit はアップロードを受け付け、展開してジョブをキューに投入します。
func (m *Manager) Submit(ctx context.Context, req *tex.SubmitRequest) (*tex.Submission, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}

	optionsJSON, err := json.Marshal(req.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}

	jobID := uuid.NewString()
	if err := m.store.Create(ctx, &Job{
		ID:       jobID,
		Status:   StatusUploading,
		ClientID: req.ClientID,
		Options:  string(optionsJSON),
	}); err != nil {
		return nil, fmt.Errorf("failed to record job: %w", err)
	}

	workDir, err := m.service.CreateWorkspace(jobID)
	if err != nil {
		m.recordFailure(ctx, jobID, "Unexpected error: "+err.Error())
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	extracting := StatusExtracting
	if err := m.store.Update(ctx, jobID, Update{Status: &extracting, WorkDir: &workDir}); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if err := m.service.Extract(req.Archive, workDir); err != nil {
		message := fmt.Sprintf("Zip extraction failed: %s", err)
		m.recordFailure(ctx, jobID, message)
		return nil, tex.NewError("EXTRACTION_FAILED", message, err)
	}

	if err := m.store.SetStatus(ctx, jobID, StatusQueued); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	body, err := json.Marshal(&TaskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	task := asynq.NewTask(taskTypeCompile, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		m.recordFailure(ctx, jobID, "Unexpected error: failed to queue job")
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Infow("job queued", "job_id", jobID, "filename", req.Filename, "client", req.ClientID)
	return &tex.Submission{JobID: jobID, Status: string(StatusQueued)}, nil
}

// Status はジョブの現在状態を返します。状態の読み取りはレコードを変更しません。
func (m *Manager) Status(ctx context.Context, jobID string) (*tex.JobStatus, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, tex.NewError("JOB_NOT_FOUND", "Job not found", nil)
	}
	return &tex.JobStatus{
		JobID:     job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		Error:     job.Error,
		Progress:  job.Progress,
		Pages:     job.ArtifactPages,
		Size:      job.ArtifactBytes,
	}, nil
}

// Download は完了ジョブの成果物を開いて返します。
func (m *Manager) Download(ctx context.Context, jobID string) (*tex.Download, *os.File, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, tex.NewError("JOB_NOT_FOUND", "Job not found", nil)
	}
	if job.Status != StatusCompleted {
		return nil, nil, tex.NewError("JOB_NOT_READY",
			fmt.Sprintf("PDF not ready. Current status: %s", job.Status), nil)
	}

	file, size, err := m.artifacts.Open(jobID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, tex.NewError("ARTIFACT_MISSING", "PDF file not found in storage", err)
		}
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	return &tex.Download{
		JobID:    job.ID,
		Filename: downloadFilename(job.ID),
		Size:     size,
	}, file, nil
}

func (m *Manager) handleCompileTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	job, err := m.store.Get(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		m.logger.Warnw("job record missing, dropping task", "job_id", payload.JobID)
		return nil
	}
	if job.Status.Terminal() {
		// 再配信されたタスクは二重処理しない
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("panic while processing job", "job_id", payload.JobID, "panic", r)
			m.recordFailure(context.Background(), payload.JobID, "Unexpected error: internal failure")
		}
	}()

	var opts tex.Options
	if err := json.Unmarshal([]byte(job.Options), &opts); err != nil {
		m.recordFailure(ctx, payload.JobID, "Unexpected error: invalid job options")
		return nil
	}

	if err := m.store.SetStatus(ctx, payload.JobID, StatusProcessing); err != nil {
		return err
	}

	result, err := m.service.Compile(ctx, tex.CompileRequest{
		JobID:   payload.JobID,
		WorkDir: job.WorkDir,
		Options: opts,
	}, func(stage string) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, stage); err != nil {
			m.logger.Warnw("failed to update progress", "job_id", payload.JobID, "error", err)
		}
	})
	if err != nil {
		// 失敗を記録したら nil を返し、タスクを再試行させない
		m.failJobWithError(ctx, payload.JobID, err)
		return nil
	}

	if err := m.store.MarkCompleted(ctx, payload.JobID, result.Pages, result.Size); err != nil {
		m.logger.Errorw("failed to mark job completed", "job_id", payload.JobID, "error", err)
		return err
	}
	m.logger.Infow("job completed", "job_id", payload.JobID, "pages", result.Pages, "bytes", result.Size)
	return nil
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) {
	var apiErr *tex.Error
	if errors.As(err, &apiErr) {
		m.recordFailure(ctx, jobID, apiErr.Message)
		return
	}
	m.recordFailure(ctx, jobID, "Unexpected error: "+err.Error())
}

func (m *Manager) recordFailure(ctx context.Context, jobID, message string) {
	if err := m.store.MarkFailed(ctx, jobID, message); err != nil {
		m.logger.Errorw("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func downloadFilename(jobID string) string {
	suffix := jobID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "document_" + suffix + ".pdf"
}
