package tex

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractArchive は ZIP アーカイブを検証してから dest 以下に展開します。
// すべてのエントリーのメタデータを先に検査し、1件でも違反があれば
// ファイルを一切書き込まずに SanitizeError を返します。
func ExtractArchive(data []byte, dest string, maxEntrySize int64) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &SanitizeError{Reason: ReasonBadArchive, Err: err}
	}

	for _, entry := range reader.File {
		name := filepath.ToSlash(entry.Name)
		if strings.HasPrefix(name, "/") || hasTraversalSegment(name) {
			return &SanitizeError{Reason: ReasonSuspiciousPath, Path: entry.Name}
		}
		if maxEntrySize > 0 && entry.UncompressedSize64 > uint64(maxEntrySize) {
			return &SanitizeError{Reason: ReasonEntryTooLarge, Path: entry.Name}
		}
	}

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(entry, dest); err != nil {
			return err
		}
	}
	return nil
}

func hasTraversalSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func extractEntry(entry *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(entry.Name))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create entry directory: %w", err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create extracted file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write extracted file %s: %w", entry.Name, err)
	}
	return nil
}
