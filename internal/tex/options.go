package tex

import "regexp"

const (
	defaultMainFile = "main.tex"
	defaultNumRuns  = 2
	maxNumRuns      = 5
)

var mainFilePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+\.tex$`)

// Options は変換ジョブのコンパイルオプションを表します。
// ジョブ受付時に確定し、以後変更されません。
type Options struct {
	MainFile  string `json:"main_file"`
	NumRuns   int    `json:"num_runs"`
	UseBibtex bool   `json:"use_bibtex"`
}

// Normalize は未指定のフィールドにデフォルト値を適用し、値を検証します。
func (o *Options) Normalize() error {
	if o.MainFile == "" {
		o.MainFile = defaultMainFile
	}
	if o.NumRuns == 0 {
		o.NumRuns = defaultNumRuns
	}

	if !mainFilePattern.MatchString(o.MainFile) {
		return NewError("INVALID_INPUT", "Main file name must be a valid LaTeX filename (e.g., main.tex)", nil)
	}
	if o.NumRuns < 1 || o.NumRuns > maxNumRuns {
		return NewError("INVALID_INPUT", "num_runs must be between 1 and 5", nil)
	}
	return nil
}
