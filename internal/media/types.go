// Package media はエピソードの解決・変換の起動・ジョブ状態の提示を提供します。
package media

import "fmt"

// QualityTier はリクエストで指定する画質種別を表します。
type QualityTier string

const (
	QualityHigh   QualityTier = "high"
	QualityMedium QualityTier = "medium"
	QualityLow    QualityTier = "low"
)

// ParseQualityTier はクエリ文字列の画質指定を解析します。未指定は high です。
func ParseQualityTier(s string) (QualityTier, error) {
	switch QualityTier(s) {
	case "":
		return QualityHigh, nil
	case QualityHigh, QualityMedium, QualityLow:
		return QualityTier(s), nil
	default:
		return "", newError("INVALID_INPUT", fmt.Sprintf("qualityには high / medium / low を指定してください (received: %s)", s), nil)
	}
}

// Source は解決済みエピソードの取得元情報です。
type Source struct {
	URL      string
	ImageURL string
}

// Variant は1つの画質（解像度）の選択肢を表します。
type Variant struct {
	URL    string
	Width  int
	Height int
}

// Error はAPIエラーを表します。Code はレスポンスのHTTPステータスに
// 対応付けられます。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}
