package repository_test

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/datavault/internal/database"
	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
)

// setupDB starts Postgres in a container and applies the migrations. It is
// skipped unless TEST_INTEGRATION is set.
func setupDB(t *testing.T) *repository.DB {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("set TEST_INTEGRATION to run repository tests against Postgres")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("datavault_test"),
		postgres.WithUsername("datavault"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(dsn, zaptest.NewLogger(t)))

	pool, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return repository.New(pool)
}

func TestRepository(t *testing.T) {
	db := setupDB(t)

	t.Run("Files", func(t *testing.T) { testFiles(t, db) })
	t.Run("Ledger", func(t *testing.T) { testLedger(t, db) })
	t.Run("Feeds", func(t *testing.T) { testFeeds(t, db) })
	t.Run("Listeners", func(t *testing.T) { testListeners(t, db) })
	t.Run("Groups", func(t *testing.T) { testGroups(t, db) })
}

func testFiles(t *testing.T, db *repository.DB) {
	ctx := context.Background()
	folder := "raw"
	f := &model.File{Name: "a.csv", DatasetID: "ds", FolderID: &folder, Creator: "ana@example.com", ContentType: "text/csv"}
	id, err := db.InsertFile(ctx, f)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := db.GetFile(ctx, id)
	require.NoError(t, err)
	require.True(t, got.Provisional())
	require.Equal(t, "raw", *got.FolderID)

	got.VersionID, got.VersionNum, got.Bytes = "v1", 1, 42
	require.NoError(t, db.ReplaceFile(ctx, got))
	require.NoError(t, db.IncrementDownloads(ctx, id))

	got, err = db.GetFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "v1", got.VersionID)
	require.Equal(t, int64(1), got.Downloads)

	require.NoError(t, db.InsertVersion(ctx, &model.FileVersion{FileID: id, VersionID: "v1", VersionNum: 1, Creator: f.Creator, Bytes: 42}))
	require.NoError(t, db.InsertVersion(ctx, &model.FileVersion{FileID: id, VersionID: "v2", VersionNum: 2, Creator: f.Creator, Bytes: 50}))
	err = db.InsertVersion(ctx, &model.FileVersion{FileID: id, VersionID: "v3", VersionNum: 2, Creator: f.Creator})
	require.ErrorIs(t, err, repository.ErrConflict)

	versions, err := db.ListVersions(ctx, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "v1", versions[0].VersionID)

	require.NoError(t, db.InsertMetadata(ctx, &model.Metadata{ResourceID: id, Content: map[string]any{"pages": 3.0}, Creator: "extractor"}))

	n, err := db.DeleteMetadata(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = db.DeleteVersions(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	n, err = db.DeleteFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = db.DeleteFile(ctx, id)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = db.GetFile(ctx, id)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.ErrorIs(t, db.ReplaceFile(ctx, got), repository.ErrNotFound)
}

func testLedger(t *testing.T, db *repository.DB) {
	ctx := context.Background()
	require.NoError(t, db.CreateUser(ctx, &model.User{Email: "bo@example.com"}))
	require.ErrorIs(t, db.CreateUser(ctx, &model.User{Email: "bo@example.com"}), repository.ErrConflict)

	total, ok, err := db.AddBytes(ctx, "bo@example.com", 5, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), total)

	total, ok, err = db.AddBytes(ctx, "bo@example.com", 8, 10)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(5), total)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := db.AddBytes(ctx, "bo@example.com", 1, 10)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	u, err := db.GetUser(ctx, "bo@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(10), u.TotalBytes)

	total, err = db.SubtractBytes(ctx, "bo@example.com", 100)
	require.NoError(t, err)
	require.Zero(t, total)

	_, _, err = db.AddBytes(ctx, "nobody@example.com", 1, -1)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testFeeds(t *testing.T, db *repository.DB) {
	ctx := context.Background()
	first := &model.Feed{
		Name:   "csv",
		Search: json.RawMessage(`{"match":{"name":"csv"}}`),
		Listeners: []model.FeedListener{
			{ListenerID: "l1", Automatic: true},
			{ListenerID: "l2"},
		},
		Created: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, db.CreateFeed(ctx, first))
	second := &model.Feed{Name: "manual", Search: json.RawMessage(`{"match_all":{}}`), Listeners: []model.FeedListener{{ListenerID: "l3"}}}
	require.NoError(t, db.CreateFeed(ctx, second))

	got, err := db.GetFeed(ctx, first.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"match":{"name":"csv"}}`, string(got.Search))
	require.Equal(t, []string{"l1"}, got.AutomaticListeners())

	auto, err := db.AutomaticFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 1)
	require.Equal(t, first.ID, auto[0].ID)

	require.NoError(t, db.AddFeedListener(ctx, second.ID, model.FeedListener{ListenerID: "l3", Automatic: true}))
	auto, err = db.AutomaticFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 2)
	require.Equal(t, first.ID, auto[0].ID)

	require.NoError(t, db.RemoveFeedListener(ctx, first.ID, "l1"))
	auto, err = db.AutomaticFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 1)

	named, err := db.ListFeeds(ctx, "manual", 0, 10)
	require.NoError(t, err)
	require.Len(t, named, 1)

	require.NoError(t, db.DeleteFeed(ctx, second.ID))
	_, err = db.GetFeed(ctx, second.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testListeners(t *testing.T, db *repository.DB) {
	ctx := context.Background()
	l := &model.EventListener{Name: "pdf-text", Access: &model.AccessPolicy{Owner: "ana@example.com", Groups: []string{"g1"}}}
	require.NoError(t, db.CreateListener(ctx, l))
	require.ErrorIs(t, db.CreateListener(ctx, &model.EventListener{Name: "pdf-text"}), repository.ErrConflict)

	byName, err := db.GetListenerByName(ctx, "pdf-text")
	require.NoError(t, err)
	require.Equal(t, l.ID, byName.ID)
	require.Equal(t, []string{"g1"}, byName.Access.Groups)

	open := &model.EventListener{Name: "open"}
	require.NoError(t, db.CreateListener(ctx, open))
	got, err := db.GetListener(ctx, open.ID)
	require.NoError(t, err)
	require.Nil(t, got.Access)

	require.NoError(t, db.DeleteListener(ctx, open.ID))
	_, err = db.GetListener(ctx, open.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testGroups(t *testing.T, db *repository.DB) {
	ctx := context.Background()
	g := &model.Group{Name: "lab", Creator: "ana@example.com", Members: []string{"cy@example.com"}}
	require.NoError(t, db.CreateGroup(ctx, g))

	ids, err := db.GroupIDsForUser(ctx, "cy@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{g.ID}, ids)

	ids, err = db.GroupIDsForUser(ctx, "ana@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{g.ID}, ids)

	ids, err = db.GroupIDsForUser(ctx, "stranger@example.com")
	require.NoError(t, err)
	require.Empty(t, ids)
}
