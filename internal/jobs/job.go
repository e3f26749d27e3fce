package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Params は Job 作成時に確定する属性です。
type Params struct {
	ID           string
	Key          Key
	ImageURL     string
	Width        int
	Height       int
	TotalSeconds float64
	Dir          string
	ExpireAfter  time.Duration
}

// Job は1回の変換試行とその派生状態を表します。
// ID と Key は作成後に変化しません。進捗関連のフィールドは監視タスクから
// 書き込まれるため、すべて mutex 越しに読み書きします。
type Job struct {
	ID           string
	Key          Key
	ImageURL     string
	Width        int
	Height       int

	dir         string
	expireAfter time.Duration

	mu               sync.Mutex
	status           Status
	totalSeconds     float64
	startedAt        time.Time
	lastAccess       time.Time
	secondsProcessed float64
	remaining        float64
	hasRemaining     bool
	errMessage       string
	process          Handle
	cancelMonitor    context.CancelFunc
}

// New は started 状態のジョブを作成します。
func New(p Params) *Job {
	now := time.Now()
	return &Job{
		ID:           p.ID,
		Key:          p.Key,
		ImageURL:     p.ImageURL,
		Width:        p.Width,
		Height:       p.Height,
		dir:          p.Dir,
		expireAfter:  p.ExpireAfter,
		status:       StatusStarted,
		totalSeconds: p.TotalSeconds,
		startedAt:    now,
		lastAccess:   now,
	}
}

// VideoPath は成果物ファイルのパスを返します。
func (j *Job) VideoPath() string {
	return filepath.Join(j.dir, j.ID+".mp4")
}

// ProgressPath は外部プロセスが追記する進捗ストリームのパスを返します。
func (j *Job) ProgressPath() string {
	return filepath.Join(j.dir, j.ID+"-progress.txt")
}

// PlaylistPath は変換対象のプレイリスト（中間ファイル）のパスを返します。
func (j *Job) PlaylistPath() string {
	return filepath.Join(j.dir, j.ID+".m3u8")
}

// Status は現在の状態を返します。
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// ErrorMessage は error 状態のときのメッセージを返します。
func (j *Job) ErrorMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errMessage
}

// Touch は最終アクセス時刻を更新します。
func (j *Job) Touch() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastAccess = time.Now()
}

// ExpireAt は現在の最終アクセス時刻から計算した失効時刻を返します。
func (j *Job) ExpireAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastAccess.Add(j.expireAfter)
}

// Expired は失効時刻を過ぎているかどうかを返します。
func (j *Job) Expired(now time.Time) bool {
	return j.ExpireAt().Before(now)
}

// ArtifactSize は成果物ファイルの現在のサイズをバイト単位で返します。
// 変換中はファイルが成長し続けるため、毎回 stat し直します。
func (j *Job) ArtifactSize() int64 {
	info, err := os.Stat(j.VideoPath())
	if err != nil {
		return 0
	}
	return info.Size()
}

// SetTotalSeconds は変換元メタデータから得た総再生時間を設定します。
func (j *Job) SetTotalSeconds(seconds float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.totalSeconds = seconds
}

// TotalSeconds は総再生時間（秒）を返します。
func (j *Job) TotalSeconds() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.totalSeconds
}

// AttachProcess は外部プロセスのハンドルをジョブに結び付けます。
func (j *Job) AttachProcess(h Handle) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.process = h
}

// AttachMonitor は進捗監視タスクのキャンセル関数をジョブに結び付けます。
func (j *Job) AttachMonitor(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelMonitor = cancel
}

// ObserveSample は進捗ストリームから観測した処理済み秒数を記録します。
// 最初の観測で started から in_progress に遷移します。終端状態に達した後の
// 遅延サンプルは無視します。
func (j *Job) ObserveSample(secondsProcessed float64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return
	}
	j.status = StatusInProgress
	j.secondsProcessed = secondsProcessed

	if j.totalSeconds <= 0 || secondsProcessed <= 0 {
		return
	}
	progress := secondsProcessed / j.totalSeconds
	elapsed := time.Since(j.startedAt).Seconds()
	j.remaining = elapsed/progress - elapsed
	j.hasRemaining = true
}

// Progress は進捗率（0..1）を返します。まだサンプルが無い場合や値が
// 不正な場合は ok=false を返します。
func (j *Job) Progress() (float64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.totalSeconds <= 0 || j.secondsProcessed <= 0 {
		return 0, false
	}
	return j.secondsProcessed / j.totalSeconds, true
}

// Remaining は残り時間の推定値（秒）を返します。進捗が観測されるまでは
// ok=false を返します。
func (j *Job) Remaining() (float64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.hasRemaining || j.remaining < 0 {
		return 0, false
	}
	return j.remaining, true
}

// MarkDone はプロセスの正常終了を記録します。終了コードが唯一の完了判定です。
func (j *Job) MarkDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusDone
	j.hasRemaining = false
}

// MarkFailed はプロセスの異常終了または起動失敗を記録します。
func (j *Job) MarkFailed(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusError
	j.errMessage = message
}

// StopMonitor は進捗監視タスクをキャンセルします。既に停止している場合も
// 安全に呼び出せます。
func (j *Job) StopMonitor() {
	j.mu.Lock()
	cancel := j.cancelMonitor
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Terminate は外部プロセスへ終了を要求します。ベストエフォートであり、
// 呼び出し元をブロックしません。
func (j *Job) Terminate() {
	j.mu.Lock()
	process := j.process
	j.mu.Unlock()

	if process == nil {
		return
	}
	_ = process.Kill()
	// kill した子プロセスは Wait で回収しないとゾンビのまま残る。
	// 監視側が既に Wait している場合はエラーが返るだけで済む。
	go func() { _ = process.Wait() }()
}

// RemoveFiles はジョブの成果物・進捗ストリーム・中間ファイルを削除します。
// 既に存在しない場合は成功として扱います。
func (j *Job) RemoveFiles() {
	_ = os.Remove(j.VideoPath())
	_ = os.Remove(j.ProgressPath())
	_ = os.Remove(j.PlaylistPath())
}
