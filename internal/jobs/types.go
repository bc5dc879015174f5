package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusExtracting Status = "extracting"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は状態が終端（以後遷移しない）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job はジョブの永続化された現在状態を表します。
type Job struct {
	ID            string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	WorkDir       string
	ClientID      string
	Options       string
	Error         string
	Progress      string
	ArtifactPages int
	ArtifactBytes int64
}

// Update は部分更新する列を表します。nil のフィールドは変更されません。
type Update struct {
	Status        *Status
	WorkDir       *string
	Error         *string
	Progress      *string
	ArtifactPages *int
	ArtifactBytes *int64
}
