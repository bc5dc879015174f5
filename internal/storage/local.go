// Package storage は生成済み PDF を保存するアーティファクトストアを提供します。
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore はローカルファイルシステム上のアーティファクトストアです。
// 成果物はジョブ ID から決まるパス <dir>/<jobID>.pdf に保存されるため、
// 配信時はコピーせずファイルを直接開けます。
type LocalStore struct {
	dir string
}

// NewLocalStore は dir 配下にアーティファクトストアを初期化します。
// ディレクトリが存在しない場合は作成します。
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Path はジョブ ID に対応する保存先パスを返します。
func (s *LocalStore) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+".pdf")
}

// Save は srcPath のファイルをストア管理下へコピーし、保存サイズを返します。
func (s *LocalStore) Save(jobID, srcPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(s.Path(jobID), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to create artifact file: %w", err)
	}

	size, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return 0, fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return size, nil
}

// Open はジョブ ID の成果物を開き、サイズと共に返します。
// 呼び出し側がファイルを Close してください。
func (s *LocalStore) Open(jobID string) (*os.File, int64, error) {
	file, err := os.Open(s.Path(jobID))
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

// Exists はジョブ ID の成果物が存在するかを返します。
func (s *LocalStore) Exists(jobID string) bool {
	_, err := os.Stat(s.Path(jobID))
	return err == nil
}

// Delete はジョブ ID の成果物を削除します。存在しない場合はエラーにしません。
func (s *LocalStore) Delete(jobID string) error {
	err := os.Remove(s.Path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// Writable はストアのディレクトリへ書き込めるかを確認します。
func (s *LocalStore) Writable() bool {
	probe, err := os.CreateTemp(s.dir, ".writable-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}
