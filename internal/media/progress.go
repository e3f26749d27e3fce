package media

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/video-forge/internal/jobs"
)

// monitorInterval は進捗ストリームを確認する周期です。
const monitorInterval = time.Second

// progressScanBlock は進捗ファイルを末尾から走査する際のブロックサイズです。
const progressScanBlock = 512

// sample は進捗ストリームから読み取った観測値です。
type sample struct {
	seconds float64
	end     bool
	ok      bool
}

// monitorProgress は一定周期で進捗ストリームの最新サンプルを読み取り、
// ジョブの進捗を更新します。終端マーカーの観測または ctx のキャンセルで
// 停止します。完了・失敗の判定はここでは行いません（プロセスの終了コード
// が唯一の判定材料）。
func monitorProgress(ctx context.Context, job *jobs.Job) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := latestSample(job.ProgressPath())
		if !s.ok {
			// ファイル未作成・読み取り失敗は次の周期で再試行する
			continue
		}
		if s.end {
			return
		}
		job.ObserveSample(s.seconds)
	}
}

// latestSample は進捗ファイルを末尾から走査し、最新の意味のある行を返します。
// 外部プロセスが追記し続けるファイルなので、先頭からの再走査はせず、
// 末尾から固定サイズのブロック単位で逆方向に読みます。
func latestSample(path string) sample {
	f, err := os.Open(path)
	if err != nil {
		return sample{}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return sample{}
	}

	pos := info.Size()
	buf := make([]byte, progressScanBlock)
	var tail []byte

	for pos > 0 {
		n := int64(progressScanBlock)
		if pos < n {
			n = pos
		}
		pos -= n
		if _, err := f.ReadAt(buf[:n], pos); err != nil {
			return sample{}
		}

		chunk := append(append([]byte{}, buf[:n]...), tail...)
		lines := bytes.Split(chunk, []byte("\n"))

		// lines[0] は前のブロックに続く断片の可能性があるため、
		// ファイル先頭に達したときだけ解析対象に含める
		first := 1
		if pos == 0 {
			first = 0
		}
		for i := len(lines) - 1; i >= first; i-- {
			if s, matched := analyzeProgressLine(lines[i]); matched {
				return s
			}
		}
		tail = lines[0]
	}

	return sample{}
}

func analyzeProgressLine(line []byte) (sample, bool) {
	text := strings.TrimSpace(string(line))
	if strings.HasPrefix(text, "progress=") && strings.HasSuffix(text, "end") {
		return sample{end: true, ok: true}, true
	}
	if value, found := strings.CutPrefix(text, "out_time_ms="); found {
		ms, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return sample{}, false
		}
		return sample{seconds: ms / 1_000_000, ok: true}, true
	}
	return sample{}, false
}
