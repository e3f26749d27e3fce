package jobs

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

type stubHandle struct {
	mu     sync.Mutex
	killed bool
	waited bool
}

func (h *stubHandle) Wait() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waited = true
	return nil
}

func (h *stubHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *stubHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *stubHandle) wasWaited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waited
}

func cacheTestJob(t *testing.T, dir, id string, key Key) *Job {
	t.Helper()
	return New(Params{
		ID:          id,
		Key:         key,
		Dir:         dir,
		ExpireAfter: time.Hour,
	})
}

func TestCacheAddAndGet(t *testing.T) {
	cache := NewCache(10, 1<<30, nil)
	dir := t.TempDir()

	job := cacheTestJob(t, dir, "job-1", Key{ContentID: 1, Episode: 1, Lang: "vostfr", Quality: "high"})
	if got := cache.Add(job); got != job {
		t.Fatal("Add should return the inserted job")
	}

	if got := cache.Get("job-1"); got != job {
		t.Fatal("Get did not return the job")
	}
	if got := cache.Get("missing"); got != nil {
		t.Fatal("Get returned a job for an unknown id")
	}
}

func TestCacheRetrieveByFingerprint(t *testing.T) {
	cache := NewCache(10, 1<<30, nil)
	dir := t.TempDir()

	key := Key{ContentID: 7, Episode: 3, Lang: "vostfr", Quality: "medium"}
	job := cacheTestJob(t, dir, "job-1", key)
	cache.Add(job)

	if got := cache.Retrieve(key); got != job {
		t.Fatal("Retrieve did not return the job")
	}
	other := key
	other.Quality = "low"
	if got := cache.Retrieve(other); got != nil {
		t.Fatal("Retrieve matched a different fingerprint")
	}
}

func TestCacheAddDeduplicatesFingerprint(t *testing.T) {
	// 同じフィンガープリントの同時追加では先勝ちのジョブだけが残り、
	// 負けた側のプロセスは片付けられる
	cache := NewCache(10, 1<<30, nil)
	dir := t.TempDir()

	key := Key{ContentID: 1, Episode: 1, Lang: "vostfr", Quality: "high"}
	winner := cacheTestJob(t, dir, "job-1", key)
	cache.Add(winner)

	loser := cacheTestJob(t, dir, "job-2", key)
	handle := &stubHandle{}
	loser.AttachProcess(handle)

	if got := cache.Add(loser); got != winner {
		t.Fatal("Add should return the existing job for a duplicate fingerprint")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache length = %d, want 1", cache.Len())
	}
	if !handle.wasKilled() {
		t.Fatal("the losing job's process should be terminated")
	}
}

func TestCacheAddConcurrentSameKey(t *testing.T) {
	// 別ゴルーチンからの同時追加でも両者が同じジョブを観測すること
	cache := NewCache(10, 1<<30, nil)
	dir := t.TempDir()
	key := Key{ContentID: 1, Episode: 1, Lang: "vostfr", Quality: "high"}

	first := cacheTestJob(t, dir, "job-a", key)
	second := cacheTestJob(t, dir, "job-b", key)
	first.AttachProcess(&stubHandle{})
	second.AttachProcess(&stubHandle{})

	var wg sync.WaitGroup
	results := make([]*Job, 2)
	for i, job := range []*Job{first, second} {
		wg.Add(1)
		go func(i int, job *Job) {
			defer wg.Done()
			results[i] = cache.Add(job)
		}(i, job)
	}
	wg.Wait()

	if results[0] != results[1] {
		t.Fatalf("concurrent adds observed different jobs: %s vs %s", results[0].ID, results[1].ID)
	}
	if cache.Len() != 1 {
		t.Fatalf("cache length = %d, want 1", cache.Len())
	}
}

func TestCacheCountEviction(t *testing.T) {
	cache := NewCache(2, 1<<30, nil)
	dir := t.TempDir()

	first := cacheTestJob(t, dir, "job-1", Key{ContentID: 1})
	second := cacheTestJob(t, dir, "job-2", Key{ContentID: 2})
	third := cacheTestJob(t, dir, "job-3", Key{ContentID: 3})

	cache.Add(first)
	cache.Add(second)
	cache.Add(third)

	if cache.Len() != 2 {
		t.Fatalf("cache length = %d, want 2", cache.Len())
	}
	if cache.Get("job-1") != nil {
		t.Fatal("the least-recent job should have been evicted")
	}
}

func TestCacheRecencyOrder(t *testing.T) {
	cache := NewCache(2, 1<<30, nil)
	dir := t.TempDir()

	first := cacheTestJob(t, dir, "job-1", Key{ContentID: 1})
	second := cacheTestJob(t, dir, "job-2", Key{ContentID: 2})
	cache.Add(first)
	cache.Add(second)

	// job-1 を参照して最新位置へ移動させると job-2 が先に追い出される
	cache.Get("job-1")
	cache.Add(cacheTestJob(t, dir, "job-3", Key{ContentID: 3}))

	if cache.Get("job-2") != nil {
		t.Fatal("job-2 should have been evicted")
	}
	if cache.Get("job-1") == nil {
		t.Fatal("job-1 should survive after being touched")
	}
}

func TestCacheSizeEviction(t *testing.T) {
	cache := NewCache(10, 150, nil)
	dir := t.TempDir()

	first := cacheTestJob(t, dir, "job-1", Key{ContentID: 1})
	second := cacheTestJob(t, dir, "job-2", Key{ContentID: 2})
	if err := os.WriteFile(first.VideoPath(), make([]byte, 100), 0o640); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	if err := os.WriteFile(second.VideoPath(), make([]byte, 100), 0o640); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}

	cache.Add(first)
	cache.Add(second)

	// 合計200バイト > 上限150バイトなので、挿入時に最古が追い出される
	if cache.Len() != 1 {
		t.Fatalf("cache length = %d, want 1", cache.Len())
	}
	if cache.Get("job-1") != nil {
		t.Fatal("job-1 should have been evicted by the size rule")
	}
	if _, err := os.Stat(first.VideoPath()); !os.IsNotExist(err) {
		t.Fatalf("evicted artifact should be deleted, stat err=%v", err)
	}
}

func TestCacheRemoveCleansUp(t *testing.T) {
	cache := NewCache(10, 1<<30, nil)
	dir := t.TempDir()

	job := cacheTestJob(t, dir, "job-1", Key{ContentID: 1})
	handle := &stubHandle{}
	job.AttachProcess(handle)
	if err := os.WriteFile(job.VideoPath(), []byte("v"), 0o640); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	if err := os.WriteFile(job.ProgressPath(), []byte("p"), 0o640); err != nil {
		t.Fatalf("failed to write progress file: %v", err)
	}

	cache.Add(job)
	cache.Remove(job)

	if cache.Len() != 0 {
		t.Fatalf("cache length = %d, want 0", cache.Len())
	}
	if !handle.wasKilled() {
		t.Fatal("Remove should terminate the process")
	}
	if _, err := os.Stat(job.VideoPath()); !os.IsNotExist(err) {
		t.Fatalf("artifact should be deleted, stat err=%v", err)
	}
	if _, err := os.Stat(job.ProgressPath()); !os.IsNotExist(err) {
		t.Fatalf("progress file should be deleted, stat err=%v", err)
	}

	// kill したプロセスは Wait で回収されること（回収は非同期）
	deadline := time.Now().Add(time.Second)
	for !handle.wasWaited() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !handle.wasWaited() {
		t.Fatal("the terminated process should be reaped with Wait")
	}
}

func TestCacheReclaimEvictsIdleJobs(t *testing.T) {
	// リクエストが一切無くても、失効したジョブはリクレーマが追い出す
	cache := NewCache(10, 1<<30, nil)

	job := New(Params{
		ID:          "job-1",
		Key:         Key{ContentID: 1},
		Dir:         t.TempDir(),
		ExpireAfter: time.Millisecond,
	})
	cache.Add(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cache.Reclaim(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for cache.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cache.Len() != 0 {
		t.Fatal("expired job was not reclaimed")
	}
}

func TestCacheReclaimStopsOnCancel(t *testing.T) {
	cache := NewCache(10, 1<<30, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Reclaim(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reclaim did not stop on context cancellation")
	}
}
