package media

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/video-forge/internal/config"
	"github.com/yourusername/video-forge/internal/jobs"
)

// DownloadRequest は1回のダウンロード要求の論理属性です。
type DownloadRequest struct {
	ContentID int
	Episode   int
	Lang      string
	Quality   QualityTier
}

func (r DownloadRequest) key() jobs.Key {
	return jobs.Key{
		ContentID: r.ContentID,
		Episode:   r.Episode,
		Lang:      r.Lang,
		Quality:   string(r.Quality),
	}
}

// StatusView はジョブ状態のレスポンス表現です。
type StatusView struct {
	Status    jobs.Status
	ID        string
	Result    string
	Message   string
	Progress  *float64
	Remaining *float64
}

// ResultView は結果ページの描画に必要な情報です。
type ResultView struct {
	ID       string
	ImageURL string
	Width    int
	Height   int
}

// Service はダウンロードジョブの生成・監視・状態提示を担います。
type Service struct {
	cfg        *config.Config
	cache      *jobs.Cache
	resolver   SourceResolver
	variants   VariantEnumerator
	transcoder Transcoder
	logger     *log.Logger
	now        func() time.Time
}

// NewService は Service を初期化します。
func NewService(cfg *config.Config, cache *jobs.Cache, resolver SourceResolver, variants VariantEnumerator, transcoder Transcoder, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:        cfg,
		cache:      cache,
		resolver:   resolver,
		variants:   variants,
		transcoder: transcoder,
		logger:     logger,
		now:        time.Now,
	}
}

// Download はフィンガープリントに対応するジョブを検索または作成し、
// その状態を返します。キャッシュヒット時は既存ジョブの状態をそのまま
// 返し、変換を重複起動しません。
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*StatusView, error) {
	if job := s.cache.Retrieve(req.key()); job != nil {
		return s.renderStatus(job), nil
	}

	// 解決失敗はジョブを作らず、即座に呼び出し元へ返す（キャッシュされない）
	source, err := s.resolver.Resolve(ctx, req.ContentID, req.Episode, req.Lang)
	if err != nil {
		return nil, err
	}

	available, err := s.variants.ListVariants(ctx, source.URL)
	if err != nil {
		return nil, err
	}
	variant, err := pickVariant(available, req.Quality)
	if err != nil {
		return nil, err
	}

	job := jobs.New(jobs.Params{
		ID:          uuid.NewString(),
		Key:         req.key(),
		ImageURL:    source.ImageURL,
		Width:       variant.Width,
		Height:      variant.Height,
		Dir:         s.cfg.TmpDir,
		ExpireAfter: s.cfg.ExpireWindow(),
	})

	handle, totalDuration, err := s.transcoder.Start(ctx, variant.URL, job.PlaylistPath(), job.ProgressPath(), job.VideoPath())
	if err != nil {
		// 起動失敗は error 状態のジョブとして登録し、1回だけ失敗として提示する
		job.MarkFailed(err.Error())
		registered := s.cache.Add(job)
		return s.renderStatus(registered), nil
	}

	job.SetTotalSeconds(totalDuration)
	job.AttachProcess(handle)

	monitorCtx, cancel := context.WithCancel(context.Background())
	job.AttachMonitor(cancel)

	registered := s.cache.Add(job)
	if registered != job {
		// 同じ要求が同時に来て負けた側。Add が起動済みプロセスを片付けている
		cancel()
		return s.renderStatus(registered), nil
	}

	go monitorProgress(monitorCtx, job)
	go s.watch(job, handle, cancel)

	s.logger.Printf("job %s started (content=%d episode=%d lang=%s quality=%s)",
		job.ID, req.ContentID, req.Episode, req.Lang, req.Quality)

	return s.renderStatus(job), nil
}

// watch は変換プロセスの終了を待ち、終了コードで終端状態を決定します。
// 進捗監視タスクはどちらの結果でも必ずキャンセルします。
func (s *Service) watch(job *jobs.Job, handle jobs.Handle, cancel context.CancelFunc) {
	err := handle.Wait()
	cancel()

	if err != nil {
		job.MarkFailed(fmt.Sprintf("変換プロセスが異常終了しました: %v", err))
		s.logger.Printf("job %s failed: %v", job.ID, err)
		return
	}
	job.MarkDone()
	s.logger.Printf("job %s finished", job.ID)
}

// Result は完了済みジョブの結果ページ表示用の情報を返します。
func (s *Service) Result(id string) (*ResultView, error) {
	job := s.cache.Get(id)
	if job == nil || job.Status() != jobs.StatusDone {
		return nil, newError("NOT_FOUND", "リンクが無効か、期限切れか、まだ完了していません。", nil)
	}
	return &ResultView{
		ID:       job.ID,
		ImageURL: job.ImageURL,
		Width:    job.Width,
		Height:   job.Height,
	}, nil
}

// Video は完了済みジョブの成果物ファイルのパスを返します。
// 完了前のジョブは成果物がまだ書き込み中のため NOT_READY で拒否します。
func (s *Service) Video(id string) (string, error) {
	job := s.cache.Get(id)
	if job == nil {
		return "", newError("NOT_FOUND", "リンクが無効か期限切れです。", nil)
	}
	if job.Status() != jobs.StatusDone {
		return "", newError("NOT_READY", "変換がまだ完了していません。", nil)
	}
	return job.VideoPath(), nil
}

// renderStatus はジョブの現在状態をレスポンス表現に変換します。
// error 状態のジョブはレスポンスを組み立てた後にキャッシュから取り除き、
// 同じ要求の次回は新しい試行として扱われるようにします。
func (s *Service) renderStatus(job *jobs.Job) *StatusView {
	view := &StatusView{Status: job.Status(), ID: job.ID}

	switch view.Status {
	case jobs.StatusDone:
		view.Result = "/result/" + job.ID
	case jobs.StatusError:
		view.Message = job.ErrorMessage()
		s.cache.Remove(job)
	case jobs.StatusInProgress:
		if p, ok := job.Progress(); ok {
			percent := math.Round(p*100*100) / 100
			view.Progress = &percent
		}
		if r, ok := job.Remaining(); ok {
			remaining := math.Round(r*100) / 100
			view.Remaining = &remaining
		}
	}
	return view
}
