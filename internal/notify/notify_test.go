package notify

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapeoutops/internal/logging"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Message
	gate  chan struct{}
	fails bool
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.fails {
		return errors.New("relay down")
	}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestQueueDeliversAndDrainsOnClose(t *testing.T) {
	sender := &recordingSender{}
	q := NewQueue(sender, logging.Discard(), 8)
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(Message{To: "a@example.com", Subject: "hi"}))
	}
	require.NoError(t, q.Close(time.Second))
	assert.Equal(t, 5, sender.count())
	assert.False(t, q.Enqueue(Message{To: "late@example.com"}))
}

func TestQueueDropsWhenFull(t *testing.T) {
	sender := &recordingSender{gate: make(chan struct{})}
	q := NewQueue(sender, logging.Discard(), 1)
	q.Start(context.Background())

	// The worker holds one message at the gate; the buffer takes one more.
	accepted := 0
	for i := 0; i < 10; i++ {
		if q.Enqueue(Message{To: "a@example.com"}) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)
	close(sender.gate)
	require.NoError(t, q.Close(time.Second))
	assert.Equal(t, accepted, sender.count())
}

func TestQueueSwallowsSendErrors(t *testing.T) {
	sender := &recordingSender{fails: true}
	q := NewQueue(sender, logging.Discard(), 4)
	q.Start(context.Background())
	require.True(t, q.Enqueue(Message{To: "a@example.com"}))
	require.NoError(t, q.Close(time.Second))
	assert.Equal(t, 1, sender.count())
}

func TestSMTPRenderStripsHeaderInjection(t *testing.T) {
	s := SMTPSender{From: "noreply@example.com"}
	raw := string(s.render(Message{To: "a@example.com", Subject: "hi\r\nBcc: evil@example.com", Body: "line1\nline2"}))
	assert.Contains(t, raw, "Subject: hi  Bcc: evil@example.com\r\n")
	assert.True(t, strings.HasSuffix(raw, "line1\r\nline2"))
}

func TestQueueDrainsAfterStartContextCancelled(t *testing.T) {
	sender := &recordingSender{gate: make(chan struct{})}
	q := NewQueue(sender, logging.Discard(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(Message{To: "a@example.com", Subject: "shutdown"}))
	}
	cancel()
	close(sender.gate)
	require.NoError(t, q.Close(time.Second))
	assert.Equal(t, 3, sender.count())
}

func TestSMTPSendStopsAtContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	// Accept and never greet, like a stalled relay.
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s := SMTPSender{Host: "127.0.0.1", Port: addr.Port, From: "noreply@example.com"}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, Message{To: "a@example.com", Subject: "hi", Body: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
