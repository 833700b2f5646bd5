package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	derrors "github.com/driftline/driftline/internal/errors"
	"github.com/driftline/driftline/internal/store"
)

const (
	notionAPIBase    = "https://api.notion.com/v1"
	notionAPIVersion = "2022-06-28"
)

// NotionFetcher pulls pages shared with the integration, one item per
// page edited at or after the window start. Notion allows an average of
// three requests per second per integration.
type NotionFetcher struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

var _ Fetcher = (*NotionFetcher)(nil)

// NewNotionFetcher creates a Notion fetcher against the public API.
func NewNotionFetcher() *NotionFetcher {
	return &NotionFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: notionAPIBase,
		limiter: rate.NewLimiter(rate.Limit(3), 3),
	}
}

// NewNotionFetcherWithBase creates a fetcher against a custom endpoint,
// used by tests to point at a local server.
func NewNotionFetcherWithBase(baseURL string) *NotionFetcher {
	f := NewNotionFetcher()
	f.baseURL = strings.TrimSuffix(baseURL, "/")
	f.limiter = rate.NewLimiter(rate.Inf, 1)
	return f
}

func (f *NotionFetcher) Type() store.ConnectorType { return store.ConnectorTypeNotion }

func (f *NotionFetcher) DocumentType() store.DocumentType { return store.DocumentTypeNotionConnector }

type notionPage struct {
	ID             string `json:"id"`
	LastEditedTime string `json:"last_edited_time"`
	Properties     map[string]struct {
		Title []notionRichText `json:"title"`
	} `json:"properties"`
}

type notionRichText struct {
	PlainText string `json:"plain_text"`
}

type notionSearchResponse struct {
	Results    []notionPage `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

type notionBlock struct {
	Type      string `json:"type"`
	Paragraph *struct {
		RichText []notionRichText `json:"rich_text"`
	} `json:"paragraph"`
	Heading1 *struct {
		RichText []notionRichText `json:"rich_text"`
	} `json:"heading_1"`
	Heading2 *struct {
		RichText []notionRichText `json:"rich_text"`
	} `json:"heading_2"`
	Heading3 *struct {
		RichText []notionRichText `json:"rich_text"`
	} `json:"heading_3"`
	BulletedListItem *struct {
		RichText []notionRichText `json:"rich_text"`
	} `json:"bulleted_list_item"`
}

type notionBlocksResponse struct {
	Results    []notionBlock `json:"results"`
	HasMore    bool          `json:"has_more"`
	NextCursor string        `json:"next_cursor"`
}

// FetchSince searches for pages and keeps those edited at or after
// since, pulling each page's block content.
func (f *NotionFetcher) FetchSince(ctx context.Context, cfg map[string]string, since time.Time) ([]Item, error) {
	token := cfg[KeyIntegrationToken]
	if token == "" {
		return nil, derrors.New(derrors.ErrCodeConnectorConfig, "notion: integration token missing", nil)
	}

	pages, err := f.searchPages(ctx, token)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, page := range pages {
		edited, err := time.Parse(time.RFC3339, page.LastEditedTime)
		if err != nil || edited.Before(since) {
			continue
		}

		content, err := f.pageContent(ctx, token, page.ID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		items = append(items, Item{
			ExternalID: page.ID,
			Title:      pageTitle(page),
			Content:    content,
			Metadata: map[string]string{
				"page_id":          page.ID,
				"last_edited_time": page.LastEditedTime,
			},
		})
	}
	return items, nil
}

func (f *NotionFetcher) searchPages(ctx context.Context, token string) ([]notionPage, error) {
	var pages []notionPage
	cursor := ""
	for {
		body := map[string]any{
			"filter":    map[string]string{"property": "object", "value": "page"},
			"page_size": 100,
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		var parsed notionSearchResponse
		if err := f.call(ctx, token, http.MethodPost, "/search", body, &parsed); err != nil {
			return nil, err
		}
		pages = append(pages, parsed.Results...)

		if !parsed.HasMore {
			return pages, nil
		}
		cursor = parsed.NextCursor
	}
}

func (f *NotionFetcher) pageContent(ctx context.Context, token, pageID string) (string, error) {
	var b strings.Builder
	cursor := ""
	for {
		path := "/blocks/" + pageID + "/children?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}

		var parsed notionBlocksResponse
		if err := f.call(ctx, token, http.MethodGet, path, nil, &parsed); err != nil {
			return "", err
		}

		for _, block := range parsed.Results {
			if text := blockText(block); text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
		}

		if !parsed.HasMore {
			return strings.TrimSpace(b.String()), nil
		}
		cursor = parsed.NextCursor
	}
}

func (f *NotionFetcher) call(ctx context.Context, token, method, path string, body any, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return derrors.ConnectorError("notion: encode request", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return derrors.ConnectorError("notion: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", notionAPIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return derrors.ConnectorError(fmt.Sprintf("notion: %s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return derrors.ConnectorError(
			fmt.Sprintf("notion: %s %s returned %d: %s", method, path, resp.StatusCode, string(payload)), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return derrors.ConnectorError("notion: decode response", err)
	}
	return nil
}

func pageTitle(page notionPage) string {
	for _, prop := range page.Properties {
		if len(prop.Title) > 0 {
			return joinRichText(prop.Title)
		}
	}
	return "Untitled"
}

func blockText(block notionBlock) string {
	switch {
	case block.Paragraph != nil:
		return joinRichText(block.Paragraph.RichText)
	case block.Heading1 != nil:
		return joinRichText(block.Heading1.RichText)
	case block.Heading2 != nil:
		return joinRichText(block.Heading2.RichText)
	case block.Heading3 != nil:
		return joinRichText(block.Heading3.RichText)
	case block.BulletedListItem != nil:
		return joinRichText(block.BulletedListItem.RichText)
	default:
		return ""
	}
}

func joinRichText(parts []notionRichText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}
