package tex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// SubmitService は変換ジョブの受付を提供します。
type SubmitService interface {
	Submit(ctx context.Context, req *SubmitRequest) (*Submission, error)
}

// StatusService はジョブ状態の照会を提供します。
type StatusService interface {
	Status(ctx context.Context, jobID string) (*JobStatus, error)
}

// DownloadService は完了ジョブの成果物取得を提供します。
type DownloadService interface {
	Download(ctx context.Context, jobID string) (*Download, *os.File, error)
}

// SubmitRequest は受付済みアップロードの内容を表します。
type SubmitRequest struct {
	Archive  []byte
	Filename string
	Options  Options
	ClientID string
}

// Submission はジョブ受付結果を表します。
type Submission struct {
	JobID  string
	Status string
}

// JobStatus はステータス応答用のジョブ情報を表します。
type JobStatus struct {
	JobID     string
	Status    string
	CreatedAt time.Time
	Error     string
	Progress  string
	Pages     int
	Size      int64
}

// Download は成果物配信に必要な情報を表します。
type Download struct {
	JobID    string
	Filename string
	Size     int64
}

// SubmitOptions は受付ハンドラーの設定です。
type SubmitOptions struct {
	MaxUploadSize int64
	Identity      func(*gin.Context) string
}

// SubmitHandler は POST /tex2pdf のハンドラーを返します。
func SubmitHandler(svc SubmitService, opts SubmitOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.MaxUploadSize > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxUploadSize)
		}

		fileHeader, err := c.FormFile("zip_file")
		if err != nil {
			if isBodyTooLarge(err) {
				respondWithError(c, limitExceededError(opts.MaxUploadSize, err))
				return
			}
			respondWithError(c, NewError("INVALID_INPUT",
				"multipart/form-data で zip_file を送信してください。", err))
			return
		}

		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".zip") {
			respondWithError(c, NewError("INVALID_INPUT", "Uploaded file must be a zip archive.", nil))
			return
		}

		convOpts, err := parseOptions(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		archive, err := readUpload(fileHeader)
		if err != nil {
			if isBodyTooLarge(err) {
				respondWithError(c, limitExceededError(opts.MaxUploadSize, err))
				return
			}
			respondWithError(c, fmt.Errorf("failed to read upload: %w", err))
			return
		}

		// 拡張子だけでなく内容も ZIP であることを確認する
		if !mimetype.Detect(archive).Is("application/zip") {
			respondWithError(c, NewError("INVALID_INPUT", "Uploaded file must be a zip archive.", nil))
			return
		}

		identity := c.ClientIP()
		if opts.Identity != nil {
			identity = opts.Identity(c)
		}

		submission, err := svc.Submit(c.Request.Context(), &SubmitRequest{
			Archive:  archive,
			Filename: fileHeader.Filename,
			Options:  convOpts,
			ClientID: identity,
		})
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"job_id":  submission.JobID,
			"status":  submission.Status,
			"message": "Conversion job started",
		})
	}
}

// StatusHandler は GET /tex2pdf/status/:job_id のハンドラーを返します。
func StatusHandler(svc StatusService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("job_id"))
		if jobID == "" {
			respondWithError(c, NewError("INVALID_INPUT", "job_id を指定してください。", nil))
			return
		}

		status, err := svc.Status(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}

		payload := gin.H{
			"job_id":     status.JobID,
			"status":     status.Status,
			"created_at": status.CreatedAt.UTC().Format(time.RFC3339),
		}
		if status.Status == "failed" && status.Error != "" {
			payload["error"] = status.Error
		}
		if status.Status == "processing" && status.Progress != "" {
			payload["progress"] = status.Progress
		}
		if status.Status == "completed" {
			payload["artifact"] = gin.H{
				"pages":      status.Pages,
				"size_bytes": status.Size,
			}
		}
		c.JSON(http.StatusOK, payload)
	}
}

// DownloadHandler は GET /tex2pdf/download/:job_id のハンドラーを返します。
func DownloadHandler(svc DownloadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("job_id"))
		if jobID == "" {
			respondWithError(c, NewError("INVALID_INPUT", "job_id を指定してください。", nil))
			return
		}

		download, file, err := svc.Download(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()

		encodedName := url.PathEscape(download.Filename)
		c.Header("Content-Type", "application/pdf")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", download.Filename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", download.JobID)
		c.DataFromReader(http.StatusOK, download.Size, "application/pdf", file, nil)
	}
}

func parseOptions(c *gin.Context) (Options, error) {
	var opts Options

	if raw := strings.TrimSpace(c.PostForm("options")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return Options{}, NewError("INVALID_INPUT",
				"options は JSON オブジェクトで指定してください。例: {\"main_file\":\"main.tex\"}", nil)
		}
	} else {
		opts.MainFile = strings.TrimSpace(c.PostForm("main_file"))
		if raw := strings.TrimSpace(c.PostForm("num_runs")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Options{}, NewError("INVALID_INPUT", "num_runs は整数で指定してください。", nil)
			}
			opts.NumRuns = n
		}
		if raw := strings.TrimSpace(c.PostForm("use_bibtex")); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return Options{}, NewError("INVALID_INPUT", "use_bibtex は真偽値で指定してください。", nil)
			}
			opts.UseBibtex = b
		}
	}

	if err := opts.Normalize(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func readUpload(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

func limitExceededError(maxUploadSize int64, err error) *Error {
	return NewError("LIMIT_EXCEEDED",
		fmt.Sprintf("File too large. Maximum size: %d MB", maxUploadSize/1024/1024), err)
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		case "JOB_NOT_FOUND", "ARTIFACT_MISSING":
			status = http.StatusNotFound
		case "INTERNAL_ERROR":
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
