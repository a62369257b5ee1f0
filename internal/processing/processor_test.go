package processing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestProcessorRunsEveryJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	p := New(zaptest.NewLogger(t), func(ctx context.Context, key string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen[key]++
		if string(payload) == "bad" {
			return errors.New("boom")
		}
		return nil
	}, 3)
	p.Start(ctx)

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		failed  int
		succeed int
	)
	submit := func(key, payload string) {
		wg.Add(1)
		ok := p.Submit(ctx, Job{RoutingKey: key, Payload: []byte(payload), Done: func(err error) {
			resMu.Lock()
			if err != nil {
				failed++
			} else {
				succeed++
			}
			resMu.Unlock()
			wg.Done()
		}})
		require.True(t, ok)
	}
	for i := 0; i < 20; i++ {
		submit("extractors.a", "ok")
	}
	submit("extractors.b", "bad")
	wg.Wait()

	require.Equal(t, 20, succeed)
	require.Equal(t, 1, failed)
	require.Equal(t, 20, seen["extractors.a"])

	cancel()
	p.Wait()
}

func TestSubmitStopsWhenContextEnds(t *testing.T) {
	p := New(zaptest.NewLogger(t), func(context.Context, string, []byte) error { return nil }, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Workers never started, so the buffer fills and Submit must give up.
	for i := 0; i < 4; i++ {
		require.True(t, p.Submit(context.Background(), Job{}))
	}
	require.False(t, p.Submit(ctx, Job{}))
}
