package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/datavault/internal/app"
	"github.com/dharsanguruparan/datavault/internal/config"
	"github.com/dharsanguruparan/datavault/internal/ingest"
	"github.com/dharsanguruparan/datavault/internal/model"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"lang=en", "pages=1-3", "empty="})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"lang": "en", "pages": "1-3", "empty": ""}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	require.Nil(t, params)

	_, err = parseParams([]string{"novalue"})
	require.Error(t, err)
	_, err = parseParams([]string{"=x"})
	require.Error(t, err)
}

func TestDescriptorDefaultsName(t *testing.T) {
	flags := descriptorFlags{dataset: "ds", folder: "raw"}
	desc := flags.descriptor("/tmp/in/report.pdf")
	require.Equal(t, "report.pdf", desc.Name)
	require.Equal(t, "ds", desc.DatasetID)
	require.NotNil(t, desc.FolderID)
	require.Equal(t, "raw", *desc.FolderID)

	flags = descriptorFlags{name: "renamed.pdf"}
	desc = flags.descriptor("/tmp/in/report.pdf")
	require.Equal(t, "renamed.pdf", desc.Name)
	require.Nil(t, desc.FolderID)
}

func TestRouteOutput(t *testing.T) {
	out := newRouteOutput(&ingest.Report{
		Matched:      []string{"a", "b", "c"},
		Dispatched:   []string{"a"},
		Unauthorized: []string{"b"},
		Failed:       map[string]error{"c": errors.New("broker down")},
	})
	require.Equal(t, []string{"a"}, out.Dispatched)
	require.Equal(t, map[string]string{"c": "broker down"}, out.Failed)
	require.Empty(t, out.MatchError)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand(&cli{})
	for _, path := range [][]string{
		{"migrate"},
		{"upload"},
		{"update"},
		{"delete"},
		{"versions"},
		{"download"},
		{"submit"},
		{"feed", "create"},
		{"feed", "list"},
		{"feed", "get"},
		{"feed", "delete"},
		{"feed", "attach"},
		{"feed", "detach"},
		{"feed", "match"},
		{"listener", "create"},
		{"listener", "delete"},
		{"user", "create"},
		{"user", "show"},
		{"group", "create"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestPrintLinkNeedsPresigner(t *testing.T) {
	a, _ := app.NewMemory(zaptest.NewLogger(t), &config.Config{
		FileIndex:         "file",
		FeedConcurrency:   1,
		ListenerCacheSize: 1,
		ListenerCacheTTL:  time.Minute,
		CommitTimeout:     time.Second,
	})
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := printLink(cmd, a, "missing", time.Minute)
	require.ErrorContains(t, err, "cannot presign")
}

func TestAdminModeNeedsAdmin(t *testing.T) {
	actor := actorFor(&model.User{Email: "u@example.com"}, true)
	require.False(t, actor.AdminMode)
	require.False(t, actor.Privileged())

	actor = actorFor(&model.User{Email: "root@example.com", Admin: true}, true)
	require.True(t, actor.AdminMode)
	require.True(t, actor.Privileged())
}
