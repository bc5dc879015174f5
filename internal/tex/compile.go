package tex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const fallbackErrorMessage = "LaTeX compilation failed"

// CompileRequest は1ジョブ分のコンパイル入力を表します。
type CompileRequest struct {
	JobID   string
	WorkDir string
	Options Options
}

// CompileResult は生成された成果物の情報を表します。
type CompileResult struct {
	ArtifactPath string
	Pages        int
	Size         int64
}

// Compile はメインファイルの検証、pdflatex の複数回実行、成果物の保存までを行います。
// 進捗は各パスの開始時に progress へ通知されます。パスは常に逐次実行され、
// pass 1 の完了（任意の bibtex 実行を含む）前に pass 2 が始まることはありません。
func (s *Service) Compile(ctx context.Context, req CompileRequest, progress ProgressReporter) (*CompileResult, error) {
	opts := req.Options

	mainPath := filepath.Join(req.WorkDir, opts.MainFile)
	if _, err := os.Stat(mainPath); err != nil {
		s.logger.Warnw("main LaTeX file not found", "job_id", req.JobID, "main_file", opts.MainFile)
		return nil, NewError("MAIN_FILE_NOT_FOUND",
			fmt.Sprintf("Main LaTeX file (%s) not found in the archive.", opts.MainFile), nil)
	}

	timeout := time.Duration(s.cfg.MaxCompilationSeconds) * time.Second

	for i := 1; i <= opts.NumRuns; i++ {
		reportProgress(progress, fmt.Sprintf("pass %d/%d", i, opts.NumRuns))

		result, err := s.runner.Run(ctx, runSpec{
			name:    s.cfg.PdflatexPath,
			args:    []string{"-interaction=nonstopmode", "-file-line-error", opts.MainFile},
			dir:     req.WorkDir,
			timeout: timeout,
		})
		if err != nil {
			var timeoutErr *TimeoutError
			if errors.As(err, &timeoutErr) {
				return nil, NewError("COMPILATION_TIMEOUT", timeoutErr.Error(), err)
			}
			return nil, fmt.Errorf("pdflatex invocation failed: %w", err)
		}
		if result.exitCode != 0 {
			s.logger.Warnw("pdflatex exited non-zero",
				"job_id", req.JobID, "pass", i, "exit_code", result.exitCode)
			return nil, NewError("COMPILATION_FAILED", scrapeErrorLines(result.stdout), nil)
		}

		if i == 1 && opts.UseBibtex {
			s.runBibtex(ctx, req, progress, timeout)
		}
	}

	basename := strings.TrimSuffix(opts.MainFile, filepath.Ext(opts.MainFile))
	pdfPath := filepath.Join(req.WorkDir, basename+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		s.logger.Errorw("PDF not generated at expected path", "job_id", req.JobID, "path", pdfPath)
		return nil, NewError("ARTIFACT_NOT_PRODUCED",
			"PDF file not generated despite successful compilation", nil)
	}

	size, err := s.artifacts.Save(req.JobID, pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	artifactPath := s.artifacts.Path(req.JobID)
	pages, err := pdfapi.PageCountFile(artifactPath)
	if err != nil {
		// ページ数はステータス表示用の付加情報に過ぎないため、取得失敗で処理は止めない
		s.logger.Warnw("failed to count artifact pages", "job_id", req.JobID, "error", err)
		pages = 0
	}

	return &CompileResult{
		ArtifactPath: artifactPath,
		Pages:        pages,
		Size:         size,
	}, nil
}

// runBibtex は pass 1 の後に bibtex を1回実行します。失敗しても中断しません。
// 参考文献が必須の場合は次の pdflatex パスが失敗するため、ここでは記録に留めます。
func (s *Service) runBibtex(ctx context.Context, req CompileRequest, progress ProgressReporter, timeout time.Duration) {
	reportProgress(progress, "bibliography")

	basename := strings.TrimSuffix(req.Options.MainFile, filepath.Ext(req.Options.MainFile))
	result, err := s.runner.Run(ctx, runSpec{
		name:    s.cfg.BibtexPath,
		args:    []string{basename},
		dir:     req.WorkDir,
		timeout: timeout,
	})
	if err != nil {
		s.logger.Warnw("bibtex invocation failed", "job_id", req.JobID, "error", err)
		return
	}
	if result.exitCode != 0 {
		s.logger.Warnw("bibtex exited non-zero",
			"job_id", req.JobID, "exit_code", result.exitCode, "stderr", truncateOutput(result.stderr))
	}
}

// scrapeErrorLines は pdflatex の標準出力からエラー行を抽出してダイジェストを作ります。
// 診断行の形式は保証されないベストエフォートの要約であり、該当行がなければ
// 固定メッセージにフォールバックします。
func scrapeErrorLines(stdout string) string {
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.Contains(line, ":") && (strings.Contains(line, "Error") || strings.Contains(line, "Fatal")) {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return fallbackErrorMessage
	}
	if len(lines) > 3 {
		lines = lines[:3]
	}
	return "LaTeX errors: " + strings.Join(lines, " | ")
}

func truncateOutput(s string) string {
	const limit = 500
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
