package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/chunk"
	"github.com/driftline/driftline/internal/connector"
	"github.com/driftline/driftline/internal/embed"
	"github.com/driftline/driftline/internal/store"
)

// fakeFetcher serves canned items and records the window it was asked for.
type fakeFetcher struct {
	items     []connector.Item
	err       error
	lastSince time.Time
}

func (f *fakeFetcher) Type() store.ConnectorType { return store.ConnectorTypeSlack }

func (f *fakeFetcher) DocumentType() store.DocumentType { return store.DocumentTypeSlackConnector }

func (f *fakeFetcher) FetchSince(_ context.Context, _ map[string]string, since time.Time) ([]connector.Item, error) {
	f.lastSince = since
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

type runnerEnv struct {
	store     *store.SQLiteStore
	fetcher   *fakeFetcher
	runner    *Runner
	connID    int64
	spaceID   int64
	clockTime time.Time
}

func newRunnerEnv(t *testing.T) *runnerEnv {
	t.Helper()
	ctx := context.Background()

	embedder, err := embed.NewStaticEmbedder(32)
	require.NoError(t, err)
	st, err := store.Open("", embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	space, err := st.CreateSearchSpace(ctx, "owner-1", "inbox", "")
	require.NoError(t, err)

	conn, err := st.CreateConnector(ctx, store.CreateConnectorInput{
		OwnerID:     "owner-1",
		Name:        "slack",
		Type:        store.ConnectorTypeSlack,
		IsIndexable: true,
		Config:      map[string]string{"bot_token": "xoxb-test"},
	})
	require.NoError(t, err)

	fetcher := &fakeFetcher{}
	registry := connector.NewEmptyRegistry()
	registry.Register(fetcher)

	env := &runnerEnv{
		store:     st,
		fetcher:   fetcher,
		connID:    conn.ID,
		spaceID:   space.ID,
		clockTime: time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC),
	}
	env.runner = NewRunner(st, registry, chunk.New(), WithClock(func() time.Time {
		return env.clockTime
	}))
	return env
}

func item(id, content string) connector.Item {
	return connector.Item{
		ExternalID: id,
		Title:      "item " + id,
		Content:    content,
		Metadata:   map[string]string{"source": "test"},
	}
}

func TestWindowNoCheckpoint(t *testing.T) {
	env := newRunnerEnv(t)

	since, until := env.runner.Window(nil)
	assert.Equal(t, env.clockTime, until)
	assert.Equal(t, env.clockTime.AddDate(0, 0, -365), since)
}

func TestWindowSameDayCheckpointPullsBackOneDay(t *testing.T) {
	env := newRunnerEnv(t)

	checkpoint := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC) // same day as the clock
	since, _ := env.runner.Window(&checkpoint)
	assert.Equal(t, checkpoint.AddDate(0, 0, -1), since)
}

func TestWindowOlderCheckpointUnchanged(t *testing.T) {
	env := newRunnerEnv(t)

	checkpoint := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	since, until := env.runner.Window(&checkpoint)
	assert.Equal(t, checkpoint, since)
	assert.Equal(t, env.clockTime, until)
}

func TestRunIndexingSuccessAdvancesCheckpoint(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	env.fetcher.items = []connector.Item{
		item("msg-1", "first message about deployment schedules"),
		item("msg-2", "second message about the release notes"),
	}

	indexed, outcome := env.runner.RunIndexing(ctx, env.connID, env.spaceID)
	assert.Equal(t, 2, indexed)
	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Empty(t, outcome.FailedItems)

	docs, err := env.store.ListDocuments(ctx, env.spaceID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, store.DocumentTypeSlackConnector, docs[0].Type)
	assert.Equal(t, "msg-1", docs[0].Metadata["external_id"])

	conn, err := env.store.GetConnector(ctx, env.connID)
	require.NoError(t, err)
	require.NotNil(t, conn.LastIndexedAt)
	assert.True(t, conn.LastIndexedAt.Equal(env.clockTime))
}

func TestRunIndexingEmptyWindowKeepsCheckpoint(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	env.fetcher.items = nil

	indexed, outcome := env.runner.RunIndexing(ctx, env.connID, env.spaceID)
	assert.Zero(t, indexed)
	assert.Equal(t, StatusSuccess, outcome.Status)

	// documentsIndexed == 0: the checkpoint must not move.
	conn, err := env.store.GetConnector(ctx, env.connID)
	require.NoError(t, err)
	assert.Nil(t, conn.LastIndexedAt)
}

func TestRunIndexingFetchFailureKeepsCheckpoint(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	checkpoint := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.SetLastIndexedAt(ctx, env.connID, checkpoint))

	env.fetcher.err = fmt.Errorf("rate limited")

	indexed, outcome := env.runner.RunIndexing(ctx, env.connID, env.spaceID)
	assert.Zero(t, indexed)
	assert.Equal(t, StatusFailure, outcome.Status)

	// A failed run self-loops: the next window starts where this one did.
	conn, err := env.store.GetConnector(ctx, env.connID)
	require.NoError(t, err)
	require.NotNil(t, conn.LastIndexedAt)
	assert.True(t, conn.LastIndexedAt.Equal(checkpoint))
}

func TestRunIndexingPartialFailureIsWarning(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	env.fetcher.items = []connector.Item{
		item("good-1", "a perfectly fine message body"),
		item("bad-1", "   "), // no indexable content
		item("good-2", "another fine message body"),
	}

	indexed, outcome := env.runner.RunIndexing(ctx, env.connID, env.spaceID)
	assert.Equal(t, 2, indexed)
	assert.Equal(t, StatusWarning, outcome.Status)
	assert.Contains(t, outcome.Message, "Indexed")
	assert.Equal(t, []string{"bad-1"}, outcome.FailedItems)

	// Partial success with confirmed documents still advances.
	conn, err := env.store.GetConnector(ctx, env.connID)
	require.NoError(t, err)
	require.NotNil(t, conn.LastIndexedAt)
	assert.True(t, conn.LastIndexedAt.Equal(env.clockTime))
}

func TestRunIndexingAllItemsFailedIsFailure(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	env.fetcher.items = []connector.Item{
		item("bad-1", " "),
		item("bad-2", ""),
	}

	indexed, outcome := env.runner.RunIndexing(ctx, env.connID, env.spaceID)
	assert.Zero(t, indexed)
	assert.Equal(t, StatusFailure, outcome.Status)
	assert.Len(t, outcome.FailedItems, 2)

	conn, err := env.store.GetConnector(ctx, env.connID)
	require.NoError(t, err)
	assert.Nil(t, conn.LastIndexedAt)
}

func TestRunIndexingUsesCheckpointWindow(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	checkpoint := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.SetLastIndexedAt(ctx, env.connID, checkpoint))

	env.fetcher.items = []connector.Item{item("msg", "window check message")}
	_, _ = env.runner.RunIndexing(ctx, env.connID, env.spaceID)

	assert.True(t, env.fetcher.lastSince.Equal(checkpoint))
}

func TestRunIndexingRejectsBadTargets(t *testing.T) {
	env := newRunnerEnv(t)
	ctx := context.Background()

	_, outcome := env.runner.RunIndexing(ctx, 9999, env.spaceID)
	assert.Equal(t, StatusFailure, outcome.Status)

	_, outcome = env.runner.RunIndexing(ctx, env.connID, 9999)
	assert.Equal(t, StatusFailure, outcome.Status)

	// Non-indexable connector types are refused.
	serper, err := env.store.CreateConnector(ctx, store.CreateConnectorInput{
		OwnerID: "owner-1", Name: "serper", Type: store.ConnectorTypeSerperAPI,
		IsIndexable: false, Config: map[string]string{"api_key": "k"},
	})
	require.NoError(t, err)

	_, outcome = env.runner.RunIndexing(ctx, serper.ID, env.spaceID)
	assert.Equal(t, StatusFailure, outcome.Status)
}

func TestOutcomeAdvancesCheckpoint(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    bool
	}{
		{"success", Success(3), true},
		{"warning with indexed marker", Warning(2, 3, []string{"x"}), true},
		{"warning without marker", Outcome{Status: StatusWarning, Message: "partial"}, false},
		{"failure", Failure("fetch failed", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.AdvancesCheckpoint())
		})
	}
}
