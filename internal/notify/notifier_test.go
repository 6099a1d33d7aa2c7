package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	sent   []string
	sendEr error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.sendEr != nil {
		return f.sendEr
	}
	f.sent = append(f.sent, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_EventFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"dispute", "triggered"}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "dispute", "d", "body"))
	require.NoError(t, n.Notify(ctx, "requery", "r", "body"))
	require.NoError(t, n.Notify(ctx, "triggered", "t", "body"))

	assert.Equal(t, []string{"d", "t"}, s.sent)

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(ctx, "x", "body"))
	assert.Equal(t, []string{"d", "t", "x"}, s.sent)
}

func TestNotifier_EmptyEventsAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "a", "body"))
	assert.Equal(t, []string{"a"}, s.sent)
}

func TestNotifier_SenderFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", sendEr: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "dispute", "d", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"d"}, good.sent)
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	require.NoError(t, n.Notify(context.Background(), "dispute", "d", "body"))
}
