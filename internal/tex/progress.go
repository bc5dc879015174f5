package tex

// ProgressReporter は処理フェーズの進捗ラベルを通知するコールバックです。
type ProgressReporter func(stage string)

func reportProgress(cb ProgressReporter, stage string) {
	if cb == nil {
		return
	}
	cb(stage)
}
