package media

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var streamInfRe = regexp.MustCompile(`#EXT-X-STREAM-INF:.+RESOLUTION=(\d+)x(\d+)`)

// VariantEnumerator はマスタープレイリストから画質の選択肢を列挙します。
type VariantEnumerator interface {
	ListVariants(ctx context.Context, sourceURL string) ([]Variant, error)
}

// PlaylistEnumerator は HLS マスタープレイリストを取得して解析する
// VariantEnumerator の実装です。
type PlaylistEnumerator struct {
	client *http.Client
}

// NewPlaylistEnumerator は PlaylistEnumerator を作成します。
func NewPlaylistEnumerator(client *http.Client) *PlaylistEnumerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &PlaylistEnumerator{client: client}
}

// ListVariants はマスタープレイリストを取得し、解像度付きのストリーム定義を
// 列挙します。取得した文書が期待する形式でない場合は INVALID_MANIFEST を
// 返します。
func (e *PlaylistEnumerator) ListVariants(ctx context.Context, sourceURL string) ([]Variant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "プレイリストの取得に失敗しました。", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "プレイリストの取得に失敗しました。", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "プレイリストの読み込みに失敗しました。", err)
	}

	return parseMasterPlaylist(string(body))
}

func parseMasterPlaylist(body string) ([]Variant, error) {
	if !strings.HasPrefix(body, "#EXTM3U") {
		return nil, newError("INVALID_MANIFEST", "取得した文書は m3u8 プレイリストではありません。", nil)
	}

	lines := strings.Split(body, "\n")
	var variants []Variant
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT") {
			continue
		}
		m := streamInfRe.FindStringSubmatch(line)
		if m == nil || i+1 >= len(lines) {
			continue
		}
		width, _ := strconv.Atoi(m[1])
		height, _ := strconv.Atoi(m[2])
		i++
		variants = append(variants, Variant{
			URL:    strings.TrimSpace(lines[i]),
			Width:  width,
			Height: height,
		})
	}
	return variants, nil
}

// pickVariant は画質種別に応じて1つの候補を選択します。
// 候補を解像度の昇順（同解像度の並びは保持）に整列し、LOW は最小、
// HIGH は最大、MEDIUM は中央インデックス（切り捨て）の要素を選びます。
func pickVariant(variants []Variant, tier QualityTier) (Variant, error) {
	if len(variants) == 0 {
		return Variant{}, newError("INVALID_MANIFEST", "プレイリストに画質の候補が見つかりません。", nil)
	}

	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Width*sorted[i].Height < sorted[j].Width*sorted[j].Height
	})

	switch tier {
	case QualityLow:
		return sorted[0], nil
	case QualityMedium:
		return sorted[len(sorted)/2], nil
	default:
		return sorted[len(sorted)-1], nil
	}
}
