// =============================================================================
// notion.go - Notionへの編集用ミラー（任意）
// =============================================================================
//
// CMSに作成したドラフトを、編集者がレビューしやすいようにNotionのデータベースにも
// 1行ずつ記録する。ミラーの失敗は警告のみで、パイプラインの結果には影響しない。
//
// 【データベースのプロパティ】
//   - Title:    開示タイトル
//   - URL:      元の開示ページ
//   - Date:     公開日
//   - Slug:     dedupKey（CMSのslug）
//   - CMS Item: CMSアイテムID
//   - Status:   Draft / Published
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
)

// notionTextLimit はNotionのリッチテキスト1要素あたりの文字数上限
const notionTextLimit = 2000

// Clipper は作成済みアイテムを外部に記録する
type Clipper interface {
	ClipRelease(ctx context.Context, item CreatedItem) error
}

// NotionClipper は作成済みアイテムをNotionデータベースに記録する
type NotionClipper struct {
	client *notionapi.Client
	dbID   notionapi.DatabaseID
}

// NewNotionClipper creates a clipper for an existing database. databaseID may
// be empty when CreateDatabase is called next.
func NewNotionClipper(token, databaseID string) (*NotionClipper, error) {
	if token == "" {
		return nil, fmt.Errorf("NOTION_TOKEN is required")
	}
	return &NotionClipper{
		client: notionapi.NewClient(notionapi.Token(token)),
		dbID:   notionapi.DatabaseID(databaseID),
	}, nil
}

// DatabaseID returns the database receiving the clips.
func (nc *NotionClipper) DatabaseID() string {
	return string(nc.dbID)
}

// CreateDatabase creates the mirror database under pageID.
func (nc *NotionClipper) CreateDatabase(ctx context.Context, pageID string) error {
	if pageID == "" {
		return fmt.Errorf("NOTION_PAGE_ID is required to create a new database")
	}

	db, err := nc.client.Database.Create(ctx, &notionapi.DatabaseCreateRequest{
		Parent: notionapi.Parent{
			Type:   notionapi.ParentTypePageID,
			PageID: notionapi.PageID(pageID),
		},
		Title: []notionapi.RichText{
			{Text: &notionapi.Text{Content: "Disclosure Drafts"}},
		},
		Properties: notionapi.PropertyConfigs{
			"Title":    notionapi.TitlePropertyConfig{Type: notionapi.PropertyConfigTypeTitle},
			"URL":      notionapi.URLPropertyConfig{Type: notionapi.PropertyConfigTypeURL},
			"Date":     notionapi.DatePropertyConfig{Type: notionapi.PropertyConfigTypeDate},
			"Slug":     notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
			"CMS Item": notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
			"Status": notionapi.SelectPropertyConfig{
				Type: notionapi.PropertyConfigTypeSelect,
				Select: notionapi.Select{
					Options: []notionapi.Option{
						{Name: "Draft", Color: notionapi.ColorYellow},
						{Name: "Published", Color: notionapi.ColorGreen},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create Notion database: %w", err)
	}

	nc.dbID = notionapi.DatabaseID(db.ID)
	return nil
}

// ClipRelease adds one row for a created CMS item.
func (nc *NotionClipper) ClipRelease(ctx context.Context, item CreatedItem) error {
	if nc.dbID == "" {
		return fmt.Errorf("database ID not set")
	}

	_, err := nc.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: nc.dbID,
		},
		Properties: releaseProperties(item),
	})
	if err != nil {
		return fmt.Errorf("failed to clip release %s: %w", item.Record.DedupKey, err)
	}
	return nil
}

// releaseProperties はCreatedItemをNotionのプロパティに変換する
func releaseProperties(item CreatedItem) notionapi.Properties {
	rec := item.Record
	status := "Draft"
	if item.Published {
		status = "Published"
	}
	date := notionapi.Date(rec.PublishDate)

	return notionapi.Properties{
		"Title": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(rec.Title),
		},
		"URL": notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  rec.SourceURL,
		},
		"Date": notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &date},
		},
		"Slug": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(rec.DedupKey),
		},
		"CMS Item": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(item.RemoteItemID),
		},
		"Status": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: status},
		},
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Text: &notionapi.Text{Content: truncateString(s, notionTextLimit)}},
	}
}
