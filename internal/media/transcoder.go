package media

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/yourusername/video-forge/internal/jobs"
)

var extInfRe = regexp.MustCompile(`#EXTINF:([\d.]+)`)

// Transcoder は外部変換プロセスを起動します。
type Transcoder interface {
	// Start は変換を開始し、プロセスハンドルと総再生時間（秒）を返します。
	// 進捗ストリームは progressPath に追記されます。
	Start(ctx context.Context, variantURL, playlistPath, progressPath, outputPath string) (jobs.Handle, float64, error)
}

// FFmpegTranscoder は ffmpeg を利用した Transcoder の実装です。
type FFmpegTranscoder struct {
	ffmpegPath string
	client     *http.Client
}

// NewFFmpegTranscoder は FFmpegTranscoder を作成します。
func NewFFmpegTranscoder(ffmpegPath string, client *http.Client) *FFmpegTranscoder {
	if client == nil {
		client = http.DefaultClient
	}
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, client: client}
}

// Start はメディアプレイリストを playlistPath に保存し、総再生時間を
// 算出してから ffmpeg を起動します。プロセスはリクエストより長生きする
// ため、リクエストの ctx には結び付けません。
func (t *FFmpegTranscoder) Start(ctx context.Context, variantURL, playlistPath, progressPath, outputPath string) (jobs.Handle, float64, error) {
	body, err := t.fetchPlaylist(ctx, variantURL)
	if err != nil {
		return nil, 0, err
	}

	if err := os.WriteFile(playlistPath, body, 0o640); err != nil {
		return nil, 0, newError("LAUNCH_FAILED", "プレイリストの保存に失敗しました。", err)
	}

	var totalDuration float64
	for _, m := range extInfRe.FindAllStringSubmatch(string(body), -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			totalDuration += v
		}
	}

	cmd := exec.Command(t.ffmpegPath, ffmpegArgs(playlistPath, progressPath, outputPath)...)
	if err := cmd.Start(); err != nil {
		return nil, 0, newError("LAUNCH_FAILED", "変換プロセスの起動に失敗しました。", err)
	}

	return &execHandle{cmd: cmd}, totalDuration, nil
}

func (t *FFmpegTranscoder) fetchPlaylist(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "メディアプレイリストの取得に失敗しました。", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "メディアプレイリストの取得に失敗しました。", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "メディアプレイリストの読み込みに失敗しました。", err)
	}
	return body, nil
}

func ffmpegArgs(playlistPath, progressPath, outputPath string) []string {
	return []string{
		"-progress", progressPath,
		"-y",
		"-protocol_whitelist", "file,http,https,tcp,tls,crypto",
		"-i", playlistPath,
		"-bsf:a", "aac_adtstoasc",
		"-c", "copy",
		"-vcodec", "copy",
		outputPath,
	}
}

// execHandle は *exec.Cmd を jobs.Handle として公開します。
type execHandle struct {
	cmd *exec.Cmd
}

func (h *execHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
