// Package gateway はリモートサブスクリプションサービスへのHTTPゲートウェイを提供する。
// 同一読み取りリクエストの合流（シングルフライト）と、キャッシュ可能ルートの
// ライトスルーを担当する。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/subportal/internal/cache"
	"github.com/hitoshi/subportal/internal/model"
)

// HTTPError は上流サービスの非2xx応答を表す型付きエラー。
// Codeは応答ボディから固定エラーコードがパースできた場合のみ設定される。
type HTTPError struct {
	Status int
	Code   string
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("上流サービスがステータス %d を返しました (code=%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("上流サービスがステータス %d を返しました", e.Status)
}

// MutationResponse はミューテーションルートの応答。
// 成功時は {ok:true, patch:{...}}、失敗時は {ok:false, error:"<code>"}。
type MutationResponse struct {
	OK        bool            `json:"ok"`
	Patch     json.RawMessage `json:"patch"`
	ErrorCode string          `json:"error"`
}

// Recorder はゲートウェイ操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordGatewayRequest(route string, status int)
	RecordCoalescedRead(route string)
}

// NopRecorder は何も記録しないRecorder。テストおよびメトリクス無効時用。
type NopRecorder struct{}

func (NopRecorder) RecordGatewayRequest(route string, status int) {}
func (NopRecorder) RecordCoalescedRead(route string)              {}

// Sanitizer は上流由来の表示文字列をサニタイズする。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Client はリモートサービスのゲートウェイクライアント。
// GETはルート+パラメータ単位で合流され、POSTは決して合流されない
// （ペイロードが同一でも別個のユーザー操作を表すため）。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	store      *cache.Store
	sanitizer  Sanitizer
	metrics    Recorder

	// group は実行中のGETの合流テーブル。エントリは成否にかかわらず
	// 完了時に除去されるため、一度の失敗が後続呼び出しを塞ぐことはない。
	group singleflight.Group
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, store *cache.Store, sanitizer Sanitizer, metrics Recorder) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		sanitizer:  sanitizer,
		metrics:    metrics,
	}
}

// buildURL はルート+ソート済みパラメータから正規化URLを構築する。
// url.Values.Encodeはキー順にソートするため、同一の論理リクエストは
// 常に同一の文字列になる。
func (c *Client) buildURL(route string, params url.Values) string {
	q := url.Values{}
	for key, vals := range params {
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	q.Set("route", route)
	return c.baseURL + "?" + q.Encode()
}

// dedupeKey は合流テーブルのキー。顧客・ルート・パラメータ単位で分離する。
func dedupeKey(customerID, route string, params url.Values) string {
	return customerID + "\n" + route + "\n" + params.Encode()
}

// Get はルートの読み取り呼び出しを発行する。
// 同一の (顧客, ルート, パラメータ) による並行呼び出しは1回の
// ネットワーク呼び出しに合流される。キャッシュ可能ルート（home,
// subscriptions）の成功応答はキャッシュストアにライトスルーされる。
func (c *Client) Get(ctx context.Context, session *model.Session, route string, params url.Values) ([]byte, error) {
	key := dedupeKey(session.CustomerID, route, params)

	result, err, shared := c.group.Do(key, func() (any, error) {
		return c.doGet(ctx, session, route, params)
	})
	if shared {
		c.metrics.RecordCoalescedRead(route)
	}
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) doGet(ctx context.Context, session *model.Session, route string, params url.Values) ([]byte, error) {
	body, err := c.roundTrip(ctx, session, http.MethodGet, route, params, nil)
	if err != nil {
		return nil, err
	}

	// キャッシュ可能ルートのライトスルー。失敗しても読み取り自体は成功として返す。
	switch route {
	case model.RouteHome:
		c.store.Write(ctx, cache.HomeKey(session.CustomerID), cache.Payload{
			OK:   true,
			Home: json.RawMessage(body),
		})
	case model.RouteSubscriptions:
		subs, perr := c.parseSubscriptionList(body)
		if perr != nil {
			c.logger.Warn("サブスクリプション一覧のパースに失敗したためライトスルーをスキップします",
				slog.String("error", perr.Error()),
			)
			break
		}
		c.sanitizeSubscriptions(subs)
		c.store.Write(ctx, cache.ListKey(session.CustomerID), cache.Payload{
			OK:            true,
			Subscriptions: subs,
		})
	}

	return body, nil
}

// Post はミューテーションルートを呼び出す。合流は行わない。
// HTTPレベルの成功で {ok:false, error:"<code>"} が返った場合も
// エラーではなく応答として返す（固定コードの解釈は呼び出し元が行う）。
func (c *Client) Post(ctx context.Context, session *model.Session, route string, params url.Values, payload any) (*MutationResponse, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	body, err := c.roundTrip(ctx, session, http.MethodPost, route, params, reqBody)
	if err != nil {
		return nil, err
	}

	var mr MutationResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("ミューテーション応答のパースに失敗しました: %w", err)
	}
	return &mr, nil
}

// roundTrip は1回のHTTP呼び出しを実行する。
// 中間キャッシュをバイパスするためCache-Control: no-cacheを常に付与する。
func (c *Client) roundTrip(ctx context.Context, session *model.Session, method, route string, params url.Values, reqBody io.Reader) ([]byte, error) {
	reqURL := c.buildURL(route, params)

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")
	if session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("上流サービスの呼び出しに失敗しました",
			slog.String("route", route),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordGatewayRequest(route, 0)
		return nil, fmt.Errorf("上流サービスの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordGatewayRequest(route, resp.StatusCode)
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	c.metrics.RecordGatewayRequest(route, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Status: resp.StatusCode, Body: string(body)}
		if isJSONContentType(resp.Header.Get("Content-Type")) {
			var errBody struct {
				ErrorCode string `json:"error"`
			}
			if json.Unmarshal(body, &errBody) == nil {
				httpErr.Code = errBody.ErrorCode
			}
		}
		c.logger.Error("上流サービスがエラーステータスを返しました",
			slog.String("route", route),
			slog.Int("http_status", resp.StatusCode),
			slog.String("upstream_code", httpErr.Code),
		)
		return nil, httpErr
	}

	return body, nil
}

// isJSONContentType はContent-TypeがJSONを示すかどうかを判定する。
func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// parseSubscriptionList は一覧応答をパースする。
// 上流は {subscriptions:[...]} 形式とベタ配列形式の両方を返しうる。
func (c *Client) parseSubscriptionList(body []byte) ([]model.Subscription, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var subs []model.Subscription
		if err := json.Unmarshal(trimmed, &subs); err != nil {
			return nil, err
		}
		return subs, nil
	}

	var wrapped struct {
		Subscriptions []model.Subscription `json:"subscriptions"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Subscriptions, nil
}

// sanitizeSubscriptions は上流由来の表示文字列をキャッシュ前にサニタイズする。
func (c *Client) sanitizeSubscriptions(subs []model.Subscription) {
	if c.sanitizer == nil {
		return
	}
	for i := range subs {
		for j, line := range subs[i].Lines.Items() {
			subs[i].Lines.Nodes[j].Title = c.sanitizer.Sanitize(line.Title)
			subs[i].Lines.Nodes[j].VariantTitle = c.sanitizer.Sanitize(line.VariantTitle)
		}
	}
}
