package media

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// rangeChunkSize は成果物をストリームする際のチャンクサイズです。
// 大きな成果物でも全体をメモリへ読み込まずに返します。
const rangeChunkSize = 1024 * 1024

// byteRange は両端を含むバイト範囲です（RFC 7233）。
type byteRange struct {
	start int64
	end   int64
}

// parseRangeHeader は "bytes=start-end" 形式のヘッダーを解析します。
// start / end はどちらも省略可能で、省略時はそれぞれ 0 とファイル末尾に
// なります。範囲がファイルサイズに収まらない場合は RANGE_NOT_SATISFIABLE
// を返します。
func parseRangeHeader(header string, fileSize int64) (byteRange, error) {
	invalid := func() error {
		return newError("RANGE_NOT_SATISFIABLE",
			fmt.Sprintf("不正なRange指定です (Range:%q)", header), nil)
	}

	spec := strings.Replace(header, "bytes=", "", 1)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, invalid()
	}

	var (
		start int64 = 0
		end         = fileSize - 1
		err   error
	)
	if parts[0] != "" {
		if start, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
			return byteRange{}, invalid()
		}
	}
	if parts[1] != "" {
		if end, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
			return byteRange{}, invalid()
		}
	}

	if start > end || start < 0 || end > fileSize-1 {
		return byteRange{}, invalid()
	}
	return byteRange{start: start, end: end}, nil
}

// serveArtifact は成果物ファイルをRange対応で返します。Rangeヘッダーが
// 無ければ 200 で全体を、有効なRangeがあれば 206 で該当部分を返します。
func serveArtifact(c *gin.Context, path string) {
	file, err := os.Open(path)
	if err != nil {
		respondWithError(c, fmt.Errorf("成果物ファイルを開けませんでした: %w", err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		respondWithError(c, fmt.Errorf("成果物ファイルの確認に失敗しました: %w", err))
		return
	}
	fileSize := info.Size()

	c.Header("Content-Type", detectContentType(path))
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Encoding", "identity")
	c.Header("Access-Control-Expose-Headers",
		"content-type, accept-ranges, content-length, content-range, content-encoding")

	r := byteRange{start: 0, end: fileSize - 1}
	status := http.StatusOK

	if header := c.GetHeader("Range"); header != "" {
		r, err = parseRangeHeader(header, fileSize)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, fileSize))
		status = http.StatusPartialContent
	}

	c.Header("Content-Length", strconv.FormatInt(r.end-r.start+1, 10))
	c.Status(status)
	streamFileRange(c.Writer, file, r)
}

// streamFileRange は [start, end]（両端含む）を固定サイズのチャンクで
// 書き出します。
func streamFileRange(w io.Writer, file *os.File, r byteRange) {
	if _, err := file.Seek(r.start, io.SeekStart); err != nil {
		return
	}

	remaining := r.end - r.start + 1
	buf := make([]byte, rangeChunkSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := file.Read(buf[:n])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return
			}
			remaining -= int64(read)
		}
		if err != nil {
			return
		}
	}
}

func detectContentType(path string) string {
	if m, err := mimetype.DetectFile(path); err == nil {
		return m.String()
	}
	return "video/mp4"
}
