// Package tex は LaTeX ソース一式から PDF を生成する変換処理を提供します。
package tex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/config"
	"github.com/yourusername/tex-forge/internal/storage"
)

// Service は変換ジョブの作業領域管理とコンパイル実行を担います。
type Service struct {
	cfg       *config.Config
	artifacts *storage.LocalStore
	logger    *zap.SugaredLogger
	runner    commandRunner
}

// NewService は Service を初期化します。
func NewService(cfg *config.Config, artifacts *storage.LocalStore, logger *zap.SugaredLogger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if artifacts == nil {
		return nil, errors.New("artifacts store is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is nil")
	}
	return &Service{
		cfg:       cfg,
		artifacts: artifacts,
		logger:    logger,
		runner:    execRunner{},
	}, nil
}

// CreateWorkspace はジョブ専用の作業ディレクトリを作成し、そのパスを返します。
// 作業ディレクトリはジョブごとに排他で、他のジョブと共有されることはありません。
func (s *Service) CreateWorkspace(jobID string) (string, error) {
	dir := filepath.Join(s.cfg.JobsDir, "work", jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Extract はアップロードされたアーカイブを検証し、作業ディレクトリへ展開します。
func (s *Service) Extract(archive []byte, workDir string) error {
	return ExtractArchive(archive, workDir, s.cfg.MaxUploadSize)
}
