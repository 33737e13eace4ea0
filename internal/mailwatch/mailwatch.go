// Package mailwatch polls an IMAP inbox for emailed reminder replies.
// Patients who answer a reminder by mail re-enter the domain through
// the same executor path as message replies.
package mailwatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/logging"
)

// ReplyHandler applies one reply text; the reminder scheduler
// implements it.
type ReplyHandler interface {
	ApplyReply(ctx context.Context, text string) error
}

// Watcher polls one mailbox for unseen reminder replies.
type Watcher struct {
	cfg     config.MailConfig
	handler ReplyHandler
	log     *logging.Logger
}

// New creates a mail watcher.
func New(cfg config.MailConfig, handler ReplyHandler, log *logging.Logger) *Watcher {
	return &Watcher{cfg: cfg, handler: handler, log: log.Sub("mailwatch")}
}

// Run polls until the context is cancelled. Each poll opens a fresh
// connection; mail latency dwarfs connection setup.
func (w *Watcher) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.PollSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	w.log.Info().Str("host", w.cfg.Host).Dur("interval", interval).Msg("mail watcher started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("mail watcher stopped")
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				w.log.Error().Err(err).Msg("mail poll failed")
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	port := w.cfg.Port
	if port == 0 {
		port = 993
	}
	addr := fmt.Sprintf("%s:%d", w.cfg.Host, port)

	c, err := client.DialTLS(addr, &tls.Config{ServerName: w.cfg.Host})
	if err != nil {
		return fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	if err := c.Login(w.cfg.Username, w.cfg.Password); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}

	mailbox := w.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var handled imap.SeqSet
	for msg := range messages {
		text := replyText(msg, section)
		if err := w.handler.ApplyReply(ctx, text); err != nil {
			w.log.Debug().Err(err).Str("subject", subjectOf(msg)).Msg("mail ignored")
			continue
		}
		w.log.Info().Str("subject", subjectOf(msg)).Msg("mail reply applied")
		handled.AddNum(msg.SeqNum)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}

	// Handled messages are marked seen so they are not re-applied; the
	// executor's idempotency ledger covers the crash window in between.
	if !handled.Empty() {
		flags := []interface{}{imap.SeenFlag}
		if err := c.Store(&handled, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			return fmt.Errorf("imap store: %w", err)
		}
	}
	return nil
}

// replyText joins the subject and body; replies may carry the
// instruction in either.
func replyText(msg *imap.Message, section *imap.BodySectionName) string {
	var sb strings.Builder
	sb.WriteString(subjectOf(msg))
	sb.WriteString(" ")
	if body := msg.GetBody(section); body != nil {
		raw, err := io.ReadAll(body)
		if err == nil {
			sb.Write(raw)
		}
	}
	return sb.String()
}

func subjectOf(msg *imap.Message) string {
	if msg.Envelope == nil {
		return ""
	}
	return msg.Envelope.Subject
}
