package trends

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// consentCookie はCONSENTクッキーが返らなかった場合に付与する合成クッキー。
// これが無いと後続のAPI呼び出しが拒否される。
const consentCookie = "CONSENT=YES+cb.20240101-00-p0.en+FX+000"

// Session はセッション取得で得た状態。explore・ウィジェット取得の各リクエストに引き回す。
type Session struct {
	Cookie string
}

// acquireSession は対象geoのトップページにアクセスしてクッキーを取得する。
// 応答ステータスに関わらず、返却されたSet-Cookieはすべて取り込む。
func (c *Client) acquireSession(ctx context.Context, geo string) (Session, error) {
	u := c.baseURL + "/trends/?geo=" + url.QueryEscape(geo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Session{}, fmt.Errorf("セッションリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.doer.Do(req)
	if err != nil {
		return Session{}, &model.TransientNetworkError{Op: "acquire session", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("セッション取得が200以外を返しました。取得できたクッキーで続行します",
			slog.String("geo", geo),
			slog.Int("http_status", resp.StatusCode),
		)
	}

	return Session{Cookie: mergeCookies(resp.Cookies())}, nil
}

// mergeCookies はクッキーを "name=value; name=value" 形式に連結する。
// CONSENTクッキーが含まれない場合は合成クッキーを末尾に付与する。
func mergeCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies)+1)
	hasConsent := false
	for _, ck := range cookies {
		if ck.Name == "" {
			continue
		}
		if strings.EqualFold(ck.Name, "CONSENT") {
			hasConsent = true
		}
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	if !hasConsent {
		parts = append(parts, consentCookie)
	}
	return strings.Join(parts, "; ")
}
