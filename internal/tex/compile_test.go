package tex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/tex-forge/internal/config"
	"github.com/yourusername/tex-forge/internal/storage"
)

type fakeRunner struct {
	calls  []runSpec
	script func(spec runSpec) (runResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, spec runSpec) (runResult, error) {
	f.calls = append(f.calls, spec)
	if f.script != nil {
		return f.script(spec)
	}
	return runResult{}, nil
}

// pdflatex の呼び出しで対応する PDF を作業ディレクトリに書き出すスクリプト。
func pdfProducingScript(t *testing.T) func(spec runSpec) (runResult, error) {
	t.Helper()
	return func(spec runSpec) (runResult, error) {
		if filepath.Base(spec.name) != "pdflatex" {
			return runResult{}, nil
		}
		mainFile := spec.args[len(spec.args)-1]
		base := strings.TrimSuffix(mainFile, filepath.Ext(mainFile))
		pdfPath := filepath.Join(spec.dir, base+".pdf")
		if err := os.WriteFile(pdfPath, []byte("%PDF-1.4\nfake\n"), 0o640); err != nil {
			return runResult{}, err
		}
		return runResult{}, nil
	}
}

func newCompileService(t *testing.T, runner commandRunner) (*Service, *storage.LocalStore) {
	t.Helper()
	artifacts, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	cfg := &config.Config{
		MaxUploadSize:         1 << 20,
		MaxCompilationSeconds: 240,
		PdflatexPath:          "pdflatex",
		BibtexPath:            "bibtex",
		JobsDir:               t.TempDir(),
	}
	svc, err := NewService(cfg, artifacts, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	svc.runner = runner
	return svc, artifacts
}

func writeTexSource(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("\\documentclass{article}"), 0o640); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return dir
}

func TestCompileRunsRequestedPasses(t *testing.T) {
	runner := &fakeRunner{}
	runner.script = pdfProducingScript(t)
	svc, artifacts := newCompileService(t, runner)
	workDir := writeTexSource(t, "main.tex")

	var stages []string
	result, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-1",
		WorkDir: workDir,
		Options: Options{MainFile: "main.tex", NumRuns: 3},
	}, func(stage string) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("unexpected number of command runs: %d", len(runner.calls))
	}
	for i, call := range runner.calls {
		if call.name != "pdflatex" {
			t.Fatalf("call %d: unexpected command %q", i, call.name)
		}
		if call.dir != workDir {
			t.Fatalf("call %d: unexpected working dir %q", i, call.dir)
		}
		want := []string{"-interaction=nonstopmode", "-file-line-error", "main.tex"}
		if len(call.args) != len(want) {
			t.Fatalf("call %d: unexpected args %#v", i, call.args)
		}
		for j := range want {
			if call.args[j] != want[j] {
				t.Fatalf("call %d: args[%d] = %q, want %q", i, j, call.args[j], want[j])
			}
		}
		if call.timeout != 240*time.Second {
			t.Fatalf("call %d: unexpected timeout %v", i, call.timeout)
		}
	}

	wantStages := []string{"pass 1/3", "pass 2/3", "pass 3/3"}
	if len(stages) != len(wantStages) {
		t.Fatalf("unexpected stages: %#v", stages)
	}
	for i := range wantStages {
		if stages[i] != wantStages[i] {
			t.Fatalf("stage %d = %q, want %q", i, stages[i], wantStages[i])
		}
	}

	if !artifacts.Exists("job-1") {
		t.Fatal("artifact not stored")
	}
	if result.ArtifactPath != artifacts.Path("job-1") {
		t.Fatalf("unexpected artifact path: %s", result.ArtifactPath)
	}
	if result.Size == 0 {
		t.Fatal("expected non-empty artifact size")
	}
	// ダミー PDF はページ数を数えられないが、変換自体は成功扱いになる
	if result.Pages != 0 {
		t.Fatalf("unexpected page count: %d", result.Pages)
	}
}

func TestCompileMainFileMissing(t *testing.T) {
	runner := &fakeRunner{}
	svc, _ := newCompileService(t, runner)

	_, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-2",
		WorkDir: t.TempDir(),
		Options: Options{MainFile: "main.tex", NumRuns: 1},
	}, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected Error, got %v", err)
	}
	if apiErr.Code != "MAIN_FILE_NOT_FOUND" {
		t.Fatalf("unexpected code: %s", apiErr.Code)
	}
	if apiErr.Message != "Main LaTeX file (main.tex) not found in the archive." {
		t.Fatalf("unexpected message: %s", apiErr.Message)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("no command should run when the main file is missing, got %d", len(runner.calls))
	}
}

func TestCompileBibtexBetweenPasses(t *testing.T) {
	runner := &fakeRunner{}
	runner.script = pdfProducingScript(t)
	svc, _ := newCompileService(t, runner)
	workDir := writeTexSource(t, "paper.tex")

	var stages []string
	_, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-3",
		WorkDir: workDir,
		Options: Options{MainFile: "paper.tex", NumRuns: 2, UseBibtex: true},
	}, func(stage string) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("unexpected number of command runs: %d", len(runner.calls))
	}
	if runner.calls[0].name != "pdflatex" || runner.calls[1].name != "bibtex" || runner.calls[2].name != "pdflatex" {
		t.Fatalf("unexpected command order: %q %q %q",
			runner.calls[0].name, runner.calls[1].name, runner.calls[2].name)
	}

	bibtex := runner.calls[1]
	if len(bibtex.args) != 1 || bibtex.args[0] != "paper" {
		t.Fatalf("bibtex should receive the basename, got %#v", bibtex.args)
	}
	if bibtex.dir != workDir {
		t.Fatalf("bibtex must run in the job work dir, got %q", bibtex.dir)
	}

	wantStages := []string{"pass 1/2", "bibliography", "pass 2/2"}
	if len(stages) != len(wantStages) {
		t.Fatalf("unexpected stages: %#v", stages)
	}
	for i := range wantStages {
		if stages[i] != wantStages[i] {
			t.Fatalf("stage %d = %q, want %q", i, stages[i], wantStages[i])
		}
	}
}

func TestCompileBibtexFailureDoesNotAbort(t *testing.T) {
	runner := &fakeRunner{}
	producer := pdfProducingScript(t)
	runner.script = func(spec runSpec) (runResult, error) {
		if filepath.Base(spec.name) == "bibtex" {
			return runResult{exitCode: 2, stderr: "I couldn't open file name 'paper.aux'"}, nil
		}
		return producer(spec)
	}
	svc, _ := newCompileService(t, runner)
	workDir := writeTexSource(t, "paper.tex")

	_, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-4",
		WorkDir: workDir,
		Options: Options{MainFile: "paper.tex", NumRuns: 2, UseBibtex: true},
	}, nil)
	if err != nil {
		t.Fatalf("bibtex failure must not abort the pipeline: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("remaining passes should still run, got %d calls", len(runner.calls))
	}
}

func TestCompileCollectsErrorLines(t *testing.T) {
	stdout := strings.Join([]string{
		"This is pdfTeX, Version 3.141592653",
		"./main.tex:3: Undefined control sequence.",
		"l.3 \\badmacro",
		"./main.tex:9: LaTeX Error: Environment itemize undefined.",
		"./main.tex:12: Fatal error occurred, no output PDF file produced!",
		"./main.tex:15: LaTeX Error: would be the fourth line.",
	}, "\n")

	runner := &fakeRunner{}
	runner.script = func(spec runSpec) (runResult, error) {
		return runResult{exitCode: 1, stdout: stdout}, nil
	}
	svc, _ := newCompileService(t, runner)
	workDir := writeTexSource(t, "main.tex")

	_, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-5",
		WorkDir: workDir,
		Options: Options{MainFile: "main.tex", NumRuns: 2},
	}, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected Error, got %v", err)
	}
	if apiErr.Code != "COMPILATION_FAILED" {
		t.Fatalf("unexpected code: %s", apiErr.Code)
	}
	want := "LaTeX errors: ./main.tex:3: Undefined control sequence." +
		" | ./main.tex:9: LaTeX Error: Environment itemize undefined." +
		" | ./main.tex:12: Fatal error occurred, no output PDF file produced!"
	if apiErr.Message != want {
		t.Fatalf("unexpected message:\n got %q\nwant %q", apiErr.Message, want)
	}
	// 最初の失敗で残りのパスは実行されない
	if len(runner.calls) != 1 {
		t.Fatalf("unexpected number of command runs: %d", len(runner.calls))
	}
}

func TestCompileTimeoutMapped(t *testing.T) {
	runner := &fakeRunner{}
	runner.script = func(spec runSpec) (runResult, error) {
		return runResult{}, &TimeoutError{Command: spec.commandLine(), Timeout: spec.timeout}
	}
	svc, _ := newCompileService(t, runner)
	workDir := writeTexSource(t, "main.tex")

	_, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-6",
		WorkDir: workDir,
		Options: Options{MainFile: "main.tex", NumRuns: 1},
	}, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected Error, got %v", err)
	}
	if apiErr.Code != "COMPILATION_TIMEOUT" {
		t.Fatalf("unexpected code: %s", apiErr.Code)
	}
	want := "Command timed out after 240 seconds: pdflatex -interaction=nonstopmode -file-line-error main.tex"
	if apiErr.Message != want {
		t.Fatalf("unexpected message:\n got %q\nwant %q", apiErr.Message, want)
	}
}

func TestCompileArtifactMissing(t *testing.T) {
	runner := &fakeRunner{}
	svc, _ := newCompileService(t, runner)
	workDir := writeTexSource(t, "main.tex")

	_, err := svc.Compile(context.Background(), CompileRequest{
		JobID:   "job-7",
		WorkDir: workDir,
		Options: Options{MainFile: "main.tex", NumRuns: 1},
	}, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected Error, got %v", err)
	}
	if apiErr.Code != "ARTIFACT_NOT_PRODUCED" {
		t.Fatalf("unexpected code: %s", apiErr.Code)
	}
	if apiErr.Message != "PDF file not generated despite successful compilation" {
		t.Fatalf("unexpected message: %s", apiErr.Message)
	}
}

func TestScrapeErrorLinesFallback(t *testing.T) {
	got := scrapeErrorLines("This is pdfTeX\nOutput written on main.pdf\n")
	if got != "LaTeX compilation failed" {
		t.Fatalf("unexpected message: %q", got)
	}
}
