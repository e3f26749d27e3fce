package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SourceResolver はエピソード識別子を再生可能なURLに解決します。
type SourceResolver interface {
	Resolve(ctx context.Context, contentID, episode int, lang string) (*Source, error)
}

// APIResolver は上流カタログAPIを利用した SourceResolver の実装です。
type APIResolver struct {
	baseURL string
	client  *http.Client
}

// NewAPIResolver は APIResolver を作成します。
func NewAPIResolver(baseURL string, client *http.Client) *APIResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type episodePayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    map[string]struct {
		VideoURI string `json:"videoUri"`
		ImageURL string `json:"url_image"`
	} `json:"data"`
}

// Resolve はカタログAPIに問い合わせ、指定言語のマスタープレイリストURLと
// サムネイルURLを返します。
func (r *APIResolver) Resolve(ctx context.Context, contentID, episode int, lang string) (*Source, error) {
	url := fmt.Sprintf("%s/%d/%d", r.baseURL, contentID, episode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "エピソード情報の取得に失敗しました。", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, newError("UPSTREAM_ERROR", "エピソード情報の取得に失敗しました。", err)
	}
	defer resp.Body.Close()

	var payload episodePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, newError("UPSTREAM_ERROR", "エピソード情報の解析に失敗しました。", err)
	}

	if !payload.Success {
		return nil, newError("NOT_AVAILABLE", payload.Message, nil)
	}

	data, ok := payload.Data[lang]
	if !ok || data.VideoURI == "" {
		return nil, newError("NOT_AVAILABLE",
			fmt.Sprintf("言語 %s はコンテンツ %d のエピソード %d では利用できません。", lang, contentID, episode), nil)
	}

	return &Source{URL: data.VideoURI, ImageURL: data.ImageURL}, nil
}
