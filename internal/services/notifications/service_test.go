// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	sent     []Message
	failures int
	calls    int
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("smtp: 421 try again later")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) snapshot() ([]Message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...), r.calls
}

func TestSendDownloadEmailWithoutSenderOnlyLogs(t *testing.T) {
	t.Parallel()

	svc, err := NewService(Config{}, zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, svc.Enabled())
	assert.True(t, svc.SendDownloadEmail(context.Background(), "a@example.com", "https://shop/download/t", "Neon Notes"))
}

func TestSendDownloadEmailDelivers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sender := &recordingSender{}
	svc, err := NewService(Config{}, zerolog.Nop(), WithSender(sender))
	require.NoError(t, err)
	svc.Start()
	svc.Start()
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	require.True(t, svc.SendDownloadEmail(ctx, " a@example.com ", "https://shop/download/tok", "Neon Notes"))

	require.Eventually(t, func() bool {
		sent, _ := sender.snapshot()
		return len(sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent, _ := sender.snapshot()
	assert.Equal(t, "a@example.com", sent[0].To)
	assert.Equal(t, "Your download: Neon Notes", sent[0].Title)
	assert.Contains(t, sent[0].Body, "Download: https://shop/download/tok")
}

func TestSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sender := &recordingSender{failures: 2}
	svc, err := NewService(Config{Delay: time.Millisecond}, zerolog.Nop(), WithSender(sender))
	require.NoError(t, err)
	svc.Start()
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	require.True(t, svc.SendDownloadEmail(ctx, "a@example.com", "https://shop/download/tok", "Neon Notes"))

	require.Eventually(t, func() bool {
		sent, calls := sender.snapshot()
		return len(sent) == 1 && calls == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{failures: 10}
	svc, err := NewService(Config{Delay: time.Millisecond, Attempts: 3}, zerolog.Nop(), WithSender(sender))
	require.NoError(t, err)

	err = svc.deliver(context.Background(), Message{To: "a@example.com", Body: "hi"})
	require.Error(t, err)

	_, calls := sender.snapshot()
	assert.Equal(t, 3, calls)
}

func TestQueueFullDropsMessage(t *testing.T) {
	t.Parallel()

	// workers are never started so the queue cannot drain
	svc, err := NewService(Config{QueueSize: 2}, zerolog.Nop(), WithSender(&recordingSender{}))
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, svc.SendDownloadEmail(ctx, "a@example.com", "u", "app"))
	assert.True(t, svc.SendDownloadEmail(ctx, "b@example.com", "u", "app"))
	assert.False(t, svc.SendDownloadEmail(ctx, "c@example.com", "u", "app"))
}

func TestNilServiceIsSafe(t *testing.T) {
	t.Parallel()

	var svc *Service
	svc.Start()
	assert.False(t, svc.Enabled())
	assert.False(t, svc.SendDownloadEmail(context.Background(), "a@example.com", "u", "app"))
	assert.NoError(t, svc.Close(context.Background()))
}

func TestCloseDeliversQueuedMessages(t *testing.T) {
	t.Parallel()

	const n = 25
	sender := &recordingSender{}
	svc, err := NewService(Config{QueueSize: n}, zerolog.Nop(), WithSender(sender))
	require.NoError(t, err)
	svc.Start()

	ctx := context.Background()
	for i := range n {
		require.True(t, svc.SendDownloadEmail(ctx, fmt.Sprintf("user-%d@example.com", i), "https://shop/download/tok", "Neon Notes"))
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(closeCtx))

	sent, _ := sender.snapshot()
	assert.Len(t, sent, n)
}

func TestCloseDrainsQueueOfUnstartedService(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	svc, err := NewService(Config{}, zerolog.Nop(), WithSender(sender))
	require.NoError(t, err)

	require.True(t, svc.SendDownloadEmail(context.Background(), "a@example.com", "u", "app"))
	require.NoError(t, svc.Close(context.Background()))

	sent, _ := sender.snapshot()
	assert.Len(t, sent, 1)
}

func TestSendAfterCloseIsRejected(t *testing.T) {
	t.Parallel()

	svc, err := NewService(Config{}, zerolog.Nop(), WithSender(&recordingSender{}))
	require.NoError(t, err)
	svc.Start()

	require.NoError(t, svc.Close(context.Background()))
	require.NoError(t, svc.Close(context.Background()))
	assert.False(t, svc.SendDownloadEmail(context.Background(), "a@example.com", "u", "app"))
}

// blockingSender holds every send until its context ends.
type blockingSender struct{}

func (blockingSender) Send(ctx context.Context, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCloseGivesUpAtDeadline(t *testing.T) {
	t.Parallel()

	svc, err := NewService(Config{Attempts: 1}, zerolog.Nop(), WithSender(blockingSender{}))
	require.NoError(t, err)
	svc.Start()
	require.True(t, svc.SendDownloadEmail(context.Background(), "a@example.com", "u", "app"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = svc.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewServiceRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewService(Config{URL: "notaservice://nope"}, zerolog.Nop())
	require.Error(t, err)
	require.Error(t, ValidateURL("notaservice://nope"))
}

func TestTruncateMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", truncateMessage("   ", 10))
	assert.Equal(t, "short", truncateMessage(" short ", 10))
	long := strings.Repeat("a", 20)
	out := truncateMessage(long, 10)
	assert.Equal(t, 10, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestDownloadMessageDefaultsAppName(t *testing.T) {
	t.Parallel()

	msg := downloadMessage("a@example.com", "https://shop/download/x", " ")
	assert.Equal(t, "Your download: your app", msg.Title)
	assert.Equal(t, 3, len(strings.Split(msg.Body, "\n")))
}
