package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// fallbackInterval はキャッシュが空のときにリクレーマが待機する時間です。
const fallbackInterval = 10 * time.Second

// Cache は実行中および完了済みジョブの有限コレクションです。
// 挿入順がそのまま最近使用順を兼ね、lookup / 挿入の成功はエントリを
// 最新位置へ移動します。追い出しは常に最も古い側から行います。
// すべての変更は1つの mutex で直列化されます。
type Cache struct {
	maxCount int
	maxBytes int64
	logger   *log.Logger

	mu      sync.Mutex
	entries []*Job
}

// NewCache は Cache を作成します。
func NewCache(maxCount int, maxBytes int64, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		maxCount: maxCount,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Len は現在のエントリ数を返します。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get はジョブIDによる完全一致検索を行います。ヒットしたエントリは
// 最新位置へ移動します。
func (c *Cache) Get(id string) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, job := range c.entries {
		if job.ID == id {
			c.touchLocked(i)
			return job
		}
	}
	return nil
}

// Retrieve はフィンガープリントによる検索を行います。ヒットしたエントリは
// 最新位置へ移動します。同一リクエストの重複変換を防ぐために使います。
func (c *Cache) Retrieve(key Key) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, job := range c.entries {
		if job.Key == key {
			c.touchLocked(i)
			return job
		}
	}
	return nil
}

// Add は新しいジョブを最新位置に挿入し、挿入後のエントリを返します。
// 同じフィンガープリントのエントリが既に存在する場合は挿入せず、
// 渡されたジョブを片付けて既存のエントリを返します。件数上限は挿入前に、
// 合計サイズ上限は挿入直後に適用します。
func (c *Cache) Add(job *Job) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 同時に同じ要求が来た場合、後から来た方は先勝ちのジョブを観測する
	for i, existing := range c.entries {
		if existing.Key == job.Key {
			c.touchLocked(i)
			c.cleanup(job)
			return existing
		}
	}

	if len(c.entries) >= c.maxCount {
		c.popOldestLocked()
	}

	job.Touch()
	c.entries = append(c.entries, job)

	// 挿入したばかりのジョブ自身は追い出し対象にしない
	for c.totalSizeLocked() > c.maxBytes && len(c.entries) > 1 {
		c.popOldestLocked()
	}
	return job
}

// Remove は明示的な削除です。追い出しと同じ片付けを行います。
func (c *Cache) Remove(job *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.entries {
		if entry.ID == job.ID {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			c.cleanup(entry)
			return
		}
	}
}

// Reclaim はリクエストとは独立にキャッシュの不変条件を維持し続ける
// バックグラウンドタスクです。ctx のキャンセルで停止します。
func (c *Cache) Reclaim(ctx context.Context) {
	for {
		now := time.Now()

		c.mu.Lock()
		for len(c.entries) > 0 && c.entries[0].Expired(now) {
			c.popOldestLocked()
		}
		for c.totalSizeLocked() > c.maxBytes && len(c.entries) > 0 {
			c.popOldestLocked()
		}

		// 最近使用順は最終アクセス順でもあるため、最古エントリの失効が
		// 一番早い。空なら固定間隔で待つ。
		wait := fallbackInterval
		if len(c.entries) > 0 {
			wait = time.Until(c.entries[0].ExpireAt())
			if wait < time.Second {
				wait = time.Second
			}
		}
		c.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// touchLocked はエントリを最新位置へ移動し、最終アクセス時刻を更新します。
func (c *Cache) touchLocked(i int) {
	job := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	c.entries = append(c.entries, job)
	job.Touch()
}

// popOldestLocked は最も古いエントリを取り除いて片付けます。
func (c *Cache) popOldestLocked() {
	job := c.entries[0]
	c.entries = c.entries[1:]
	c.cleanup(job)
	c.logger.Printf("%s removed from cache.", job.ID)
}

// cleanup はジョブの保有リソースを解放します。プロセスの終了要求は
// ベストエフォートですが、ファイルの削除は必ず行います。
func (c *Cache) cleanup(job *Job) {
	job.Terminate()
	job.StopMonitor()
	job.RemoveFiles()
}

func (c *Cache) totalSizeLocked() int64 {
	var total int64
	for _, job := range c.entries {
		total += job.ArtifactSize()
	}
	return total
}
