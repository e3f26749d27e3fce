package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/video-forge/internal/jobs"
)

// DownloadService はダウンロード要求を処理できるサービスが実装します。
type DownloadService interface {
	Download(ctx context.Context, req DownloadRequest) (*StatusView, error)
}

// ResultService は完了済みジョブの成果物参照を提供します。
type ResultService interface {
	Result(id string) (*ResultView, error)
	Video(id string) (string, error)
}

// DownloadHandler は GET /download/:contentId/:episode/:lang のハンドラーを返します。
func DownloadHandler(svc DownloadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		contentID, err := strconv.Atoi(c.Param("contentId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "contentId は整数で指定してください。",
			})
			return
		}
		episode, err := strconv.Atoi(c.Param("episode"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "episode は整数で指定してください。",
			})
			return
		}

		quality, err := ParseQualityTier(c.Query("quality"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		view, err := svc.Download(c.Request.Context(), DownloadRequest{
			ContentID: contentID,
			Episode:   episode,
			Lang:      c.Param("lang"),
			Quality:   quality,
		})
		if err != nil {
			respondWithError(c, err)
			return
		}

		status, payload := statusPayload(view)
		c.JSON(status, payload)
	}
}

// ResultPageHandler は GET /result/:id のハンドラーを返します。
// 完了済みジョブに対して、動画URLへ誘導するメタタグ付きのHTMLを返します。
func ResultPageHandler(svc ResultService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.Result(c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(resultPageHTML(view)))
	}
}

// VideoHandler は GET /result/video/:id のハンドラーを返します。
// 結果ページが <id>.mp4 の形でリンクするため、拡張子は付いていても
// 受け付けます。
func VideoHandler(svc ResultService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSuffix(c.Param("id"), ".mp4")
		path, err := svc.Video(id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		serveArtifact(c, path)
	}
}

func statusPayload(view *StatusView) (int, gin.H) {
	payload := gin.H{
		"status": view.Status,
		"id":     view.ID,
		"result": nil,
	}

	switch view.Status {
	case jobs.StatusDone:
		payload["result"] = view.Result
	case jobs.StatusError:
		payload["message"] = view.Message
		return http.StatusInternalServerError, payload
	case jobs.StatusInProgress:
		payload["progress"] = view.Progress
		payload["estimated_remaining_time"] = view.Remaining
	}
	return http.StatusOK, payload
}

func resultPageHTML(view *ResultView) string {
	videoURL := fmt.Sprintf("/result/video/%s.mp4", view.ID)
	var b strings.Builder
	b.WriteString(`<meta name="twitter:card" content="player">` + "\n")
	b.WriteString(fmt.Sprintf(`<meta name="twitter:player" content="%s">`+"\n", videoURL))
	b.WriteString(fmt.Sprintf(`<meta name="twitter:player:stream" content="%s">`+"\n", videoURL))
	b.WriteString(fmt.Sprintf(`<meta name="twitter:image" content="%s">`+"\n", view.ImageURL))
	b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">` + "\n")
	b.WriteString(fmt.Sprintf(`<meta property="og:image" content="%s">`+"\n", view.ImageURL))
	b.WriteString(`<meta property="og:type" content="video.other">` + "\n")
	b.WriteString(fmt.Sprintf(`<meta property="og:video:url" content="%s">`+"\n", videoURL))
	b.WriteString(fmt.Sprintf(`<meta property="og:video:width" content="%d">`+"\n", view.Width))
	b.WriteString(fmt.Sprintf(`<meta property="og:video:height" content="%d">`+"\n", view.Height))
	b.WriteString(fmt.Sprintf(`<meta name="twitter:player:width" content="%d">`+"\n", view.Width))
	b.WriteString(fmt.Sprintf(`<meta name="twitter:player:height" content="%d">`+"\n", view.Height))
	b.WriteString(fmt.Sprintf(`<meta http-equiv="refresh" content="0;URL=%s">`, videoURL))
	return b.String()
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusInternalServerError
		switch apiErr.Code {
		case "INVALID_INPUT":
			status = http.StatusBadRequest
		case "NOT_AVAILABLE", "NOT_FOUND":
			status = http.StatusNotFound
		case "NOT_READY":
			status = http.StatusTooEarly
		case "RANGE_NOT_SATISFIABLE":
			status = http.StatusRequestedRangeNotSatisfiable
		case "INVALID_MANIFEST", "UPSTREAM_ERROR":
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
