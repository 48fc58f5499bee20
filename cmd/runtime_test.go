package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botserver/pkg/logger"
	"botserver/pkg/session"
)

func TestPruneWaitingDropsExpiredFlags(t *testing.T) {
	registry := session.NewRegistry()
	registry.Scope("shop:web:1").MarkWaiting("name")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pruneWaiting(ctx, registry, 20*time.Millisecond, logger.Discard())
		close(done)
	}()

	require.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestPruneWaitingDisabledWithoutTTL(t *testing.T) {
	registry := session.NewRegistry()
	registry.Scope("shop:web:1").MarkWaiting("name")

	pruneWaiting(context.Background(), registry, 0, logger.Discard())
	require.Equal(t, 1, registry.Len())
}
