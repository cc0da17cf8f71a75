package sqlx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"leaderwatch/core"
)

type chanNotifier struct {
	ch     chan *pq.Notification
	closed bool
}

func (c *chanNotifier) NotificationChannel() <-chan *pq.Notification { return c.ch }
func (c *chanNotifier) Close() error                                  { c.closed = true; return nil }

func note(payload string) *pq.Notification {
	return &pq.Notification{Channel: DefaultChannel, Extra: payload}
}

func TestStream_BatchesQueuedNotifications(t *testing.T) {
	src := &chanNotifier{ch: make(chan *pq.Notification, 4)}
	src.ch <- nil
	src.ch <- note(`{"kind":"added","user_id":"a","score":10,"name":"Ana"}`)
	src.ch <- note(`{"kind":"modified","user_id":"b","score":7.5}`)
	st := newStream(src)

	batch, err := st.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []core.ChangeEvent{
		{Kind: core.ChangeAdded, Record: core.ScoreRecord{UserID: "a", Score: 10, DisplayName: "Ana"}},
		{Kind: core.ChangeModified, Record: core.ScoreRecord{UserID: "b", Score: 7.5}},
	}, batch)

	require.NoError(t, st.Close())
	require.True(t, src.closed)
}

func TestStream_ConnectionFailureIsFatal(t *testing.T) {
	st := newStream(&chanNotifier{ch: make(chan *pq.Notification)})
	st.fail(errors.New("dial tcp: refused"))

	_, err := st.Next(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "refused")
}

func TestStream_ClosedChannel(t *testing.T) {
	src := &chanNotifier{ch: make(chan *pq.Notification)}
	close(src.ch)
	_, err := newStream(src).Next(context.Background())
	require.Error(t, err)
}

func TestStream_ContextCancel(t *testing.T) {
	st := newStream(&chanNotifier{ch: make(chan *pq.Notification)})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := st.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeChange(t *testing.T) {
	ev, err := decodeChange([]byte(`{"user_id":"x","score":3}`))
	require.NoError(t, err)
	require.Equal(t, core.ChangeModified, ev.Kind)
	require.Equal(t, core.Score(3), ev.Record.Score)

	ev, err = decodeChange([]byte(`{"kind":"removed","user_id":"x","score":null}`))
	require.NoError(t, err)
	require.Equal(t, core.ChangeRemoved, ev.Kind)
	require.Equal(t, core.Score(0), ev.Record.Score)

	_, err = decodeChange([]byte(`not json`))
	require.Error(t, err)
}
