// Package jobs はダウンロードジョブの状態管理と有限キャッシュを提供します。
package jobs

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal は終端状態（done / error）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Key は「同じ成果物の要求」を同定するためのフィンガープリントです。
// 同一の Key を持つリクエストはキャッシュ内の同一ジョブに解決されます。
type Key struct {
	ContentID int
	Episode   int
	Lang      string
	Quality   string
}

// Handle は外部変換プロセスへの最小限の操作を表します。
type Handle interface {
	// Wait はプロセスの終了を待ち、異常終了の場合はエラーを返します。
	Wait() error
	// Kill はプロセスの終了を要求します。既に終了している場合のエラーは
	// 呼び出し側が無視します。
	Kill() error
}
