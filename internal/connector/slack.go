package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	derrors "github.com/driftline/driftline/internal/errors"
	"github.com/driftline/driftline/internal/store"
)

const slackAPIBase = "https://slack.com/api"

// SlackFetcher pulls messages from every public channel the bot token
// can see, one item per channel per window. Slack's Web API tier allows
// roughly one request per second, enforced here with a limiter.
type SlackFetcher struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

var _ Fetcher = (*SlackFetcher)(nil)

// NewSlackFetcher creates a Slack fetcher against the public API.
func NewSlackFetcher() *SlackFetcher {
	return &SlackFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: slackAPIBase,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// NewSlackFetcherWithBase creates a fetcher against a custom endpoint,
// used by tests to point at a local server.
func NewSlackFetcherWithBase(baseURL string) *SlackFetcher {
	f := NewSlackFetcher()
	f.baseURL = strings.TrimSuffix(baseURL, "/")
	f.limiter = rate.NewLimiter(rate.Inf, 1)
	return f
}

func (f *SlackFetcher) Type() store.ConnectorType { return store.ConnectorTypeSlack }

func (f *SlackFetcher) DocumentType() store.DocumentType { return store.DocumentTypeSlackConnector }

type slackChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type slackMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

type slackResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	Channels []slackChannel `json:"channels"`
	Messages []slackMessage `json:"messages"`
	Meta     struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// FetchSince returns one item per channel that has messages at or after
// since. Channels with no new messages produce no item.
func (f *SlackFetcher) FetchSince(ctx context.Context, cfg map[string]string, since time.Time) ([]Item, error) {
	token := cfg[KeyBotToken]
	if token == "" {
		return nil, derrors.New(derrors.ErrCodeConnectorConfig, "slack: bot token missing", nil)
	}

	channels, err := f.listChannels(ctx, token)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, ch := range channels {
		messages, err := f.channelHistory(ctx, token, ch.ID, since)
		if err != nil {
			return nil, err
		}
		if len(messages) == 0 {
			continue
		}

		var b strings.Builder
		for _, m := range messages {
			fmt.Fprintf(&b, "[%s] %s: %s\n", formatSlackTS(m.TS), m.User, m.Text)
		}

		items = append(items, Item{
			ExternalID: ch.ID,
			Title:      "Slack - #" + ch.Name,
			Content:    b.String(),
			Metadata: map[string]string{
				"channel_id":    ch.ID,
				"channel_name":  ch.Name,
				"message_count": strconv.Itoa(len(messages)),
			},
		})
	}
	return items, nil
}

func (f *SlackFetcher) listChannels(ctx context.Context, token string) ([]slackChannel, error) {
	var channels []slackChannel
	cursor := ""
	for {
		params := url.Values{
			"types": {"public_channel"},
			"limit": {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := f.call(ctx, token, "conversations.list", params)
		if err != nil {
			return nil, err
		}
		channels = append(channels, resp.Channels...)

		cursor = resp.Meta.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}

func (f *SlackFetcher) channelHistory(ctx context.Context, token, channelID string, since time.Time) ([]slackMessage, error) {
	var messages []slackMessage
	cursor := ""
	for {
		params := url.Values{
			"channel": {channelID},
			"oldest":  {fmt.Sprintf("%d.000000", since.Unix())},
			"limit":   {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		resp, err := f.call(ctx, token, "conversations.history", params)
		if err != nil {
			return nil, err
		}
		messages = append(messages, resp.Messages...)

		cursor = resp.Meta.NextCursor
		if cursor == "" {
			return messages, nil
		}
	}
}

func (f *SlackFetcher) call(ctx context.Context, token, method string, params url.Values) (*slackResponse, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return nil, derrors.ConnectorError("slack: build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, derrors.ConnectorError(fmt.Sprintf("slack: %s request failed", method), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, derrors.ConnectorError(
			fmt.Sprintf("slack: %s returned %d: %s", method, resp.StatusCode, string(payload)), nil)
	}

	var parsed slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, derrors.ConnectorError(fmt.Sprintf("slack: decode %s response", method), err)
	}
	if !parsed.OK {
		return nil, derrors.ConnectorError(fmt.Sprintf("slack: %s error: %s", method, parsed.Error), nil)
	}
	return &parsed, nil
}

// formatSlackTS renders a Slack "1700000000.123456" timestamp as UTC.
func formatSlackTS(ts string) string {
	secs := strings.SplitN(ts, ".", 2)[0]
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return ts
	}
	return time.Unix(n, 0).UTC().Format("2006-01-02 15:04")
}
