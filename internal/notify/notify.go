// Package notify delivers e-mail off the request path through a buffered
// queue drained by a single worker.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultQueueSize = 256
	sendTimeout      = 30 * time.Second
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends through an SMTP relay. STARTTLS is used when the server
// offers it; auth is skipped when Username is empty.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send honours ctx for the dial and, through the connection deadline, for
// every SMTP exchange after it.
func (s SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("recipient required")
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.From); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(s.render(msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s SMTPSender) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	Logger *logrus.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("email not sent: smtp disabled")
	return nil
}

// Queue hands messages to a Sender from a background worker. Enqueue never
// blocks; send failures are logged and dropped.
type Queue struct {
	sender Sender
	logger *logrus.Logger
	ch     chan Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewQueue(sender Sender, logger *logrus.Logger, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		sender: sender,
		logger: logger,
		ch:     make(chan Message, size),
		done:   make(chan struct{}),
	}
}

// Start runs the worker until Close. Cancelling ctx does not stop it, so
// buffered mail is still delivered when Close drains the queue.
func (q *Queue) Start(ctx context.Context) {
	go q.run(context.WithoutCancel(ctx))
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for msg := range q.ch {
		q.deliver(ctx, msg)
	}
}

func (q *Queue) deliver(ctx context.Context, msg Message) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := q.sender.Send(sendCtx, msg); err != nil {
		q.logger.WithFields(logrus.Fields{
			"module":  "notify",
			"to":      msg.To,
			"subject": msg.Subject,
		}).Errorf("send email: %v", err)
	}
}

// Enqueue reports whether the message was accepted.
func (q *Queue) Enqueue(msg Message) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		q.logger.WithFields(logrus.Fields{
			"module": "notify",
			"to":     msg.To,
		}).Warn("email queue full, dropping message")
		return false
	}
}

// Close stops accepting messages and waits up to timeout for the worker to
// drain what is buffered.
func (q *Queue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return errors.New("email queue did not drain before timeout")
	}
}
