// =============================================================================
// cms.go - CMS REST APIクライアント
// =============================================================================
//
// 公開先CMS（Webflow互換のv2 API）のコレクションにドラフトを作成する。
//
// 【使用するエンドポイント】
//
//	GET  /collections/{id}                         事前チェック（認証・コレクションの存在）
//	GET  /collections/{id}/items?slug=&offset=&limit=  slugによる存在チェック
//	POST /collections/{id}/items                   ドラフト作成
//	POST /collections/{id}/items/{itemId}/publish  即時公開（任意）
//
// すべてBearerトークンで認証する。2xx以外は *StatusError を返し、
// リトライするかどうかは呼び出し側（Publisher）が isTransient で判断する。
//
// =============================================================================
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// itemsPageSize は存在チェック時の1ページの件数（APIの上限）
const itemsPageSize = 100

// CMS はPublisherが使うCMS操作
type CMS interface {
	GetCollection(ctx context.Context) (*Collection, error)
	FindItemBySlug(ctx context.Context, slug string) (*CMSItem, error)
	CreateItem(ctx context.Context, fields ItemFields) (*CMSItem, error)
	PublishItem(ctx context.Context, itemID string) error
}

// Collection はコレクションのメタ情報
type Collection struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Slug        string `json:"slug"`
}

// ItemFields はドラフトの fieldData
type ItemFields struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Date       string `json:"date"`
	BodyHTML   string `json:"bodyHtml"`
	SourceLink string `json:"sourceLink"`
}

// CMSItem はコレクションのアイテム
type CMSItem struct {
	ID         string         `json:"id"`
	IsDraft    bool           `json:"isDraft"`
	IsArchived bool           `json:"isArchived"`
	FieldData  map[string]any `json:"fieldData"`
}

// Slug returns fieldData.slug.
func (i CMSItem) Slug() string {
	s, _ := i.FieldData["slug"].(string)
	return s
}

type itemsPage struct {
	Items      []CMSItem `json:"items"`
	Pagination struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Total  int `json:"total"`
	} `json:"pagination"`
}

type createItemRequest struct {
	IsArchived bool       `json:"isArchived"`
	IsDraft    bool       `json:"isDraft"`
	FieldData  ItemFields `json:"fieldData"`
}

// NewItemFields maps a record onto the collection's field schema.
func NewItemFields(rec Record) ItemFields {
	return ItemFields{
		Name:       rec.Title,
		Slug:       rec.DedupKey,
		Date:       rec.PublishDate.UTC().Format(time.RFC3339),
		BodyHTML:   rec.Content,
		SourceLink: rec.SourceURL,
	}
}

// -----------------------------------------------------------------------------
// CMSClient
// -----------------------------------------------------------------------------

// CMSClient はCMS REST APIのHTTPクライアント
type CMSClient struct {
	baseURL      string
	token        string
	collectionID string
	client       *http.Client
}

// NewCMSClient creates a client for cfg's collection. A nil client uses a
// default with cfg.HTTPTimeout.
func NewCMSClient(cfg *Config, client *http.Client) *CMSClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &CMSClient{
		baseURL:      strings.TrimRight(cfg.CMSBaseURL, "/"),
		token:        cfg.CMSToken,
		collectionID: cfg.CMSCollectionID,
		client:       client,
	}
}

func (c *CMSClient) collectionURL(parts ...string) string {
	u := c.baseURL + "/collections/" + url.PathEscape(c.collectionID)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// GetCollection verifies credentials and that the collection exists.
func (c *CMSClient) GetCollection(ctx context.Context) (*Collection, error) {
	var col Collection
	if err := c.do(ctx, http.MethodGet, c.collectionURL(), nil, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// FindItemBySlug returns the item whose slug matches, or nil when none does.
//
// The slug query filter normally narrows the list to one page. Slugs are still
// compared locally and paging continues for APIs that ignore the filter.
func (c *CMSClient) FindItemBySlug(ctx context.Context, slug string) (*CMSItem, error) {
	for offset := 0; ; {
		q := url.Values{}
		q.Set("slug", slug)
		q.Set("offset", fmt.Sprint(offset))
		q.Set("limit", fmt.Sprint(itemsPageSize))

		var page itemsPage
		if err := c.do(ctx, http.MethodGet, c.collectionURL("items")+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Items {
			if page.Items[i].Slug() == slug {
				return &page.Items[i], nil
			}
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Pagination.Total {
			return nil, nil
		}
	}
}

// CreateItem creates an unpublished, unarchived draft.
func (c *CMSClient) CreateItem(ctx context.Context, fields ItemFields) (*CMSItem, error) {
	body := createItemRequest{IsArchived: false, IsDraft: true, FieldData: fields}
	var item CMSItem
	if err := c.do(ctx, http.MethodPost, c.collectionURL("items"), body, &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, fmt.Errorf("create item %s: response has no id", fields.Slug)
	}
	return &item, nil
}

// PublishItem publishes an existing item.
func (c *CMSClient) PublishItem(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodPost, c.collectionURL("items", itemID, "publish"), struct{}{}, nil)
}

// do はJSONリクエストを送り、2xxならレスポンスをoutにデコードする
func (c *CMSClient) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: u, Code: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, u, err)
	}
	return nil
}
