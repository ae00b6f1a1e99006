package email

import (
	"context"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

// Fetcher returns the raw RFC 822 bytes of the latest messages, newest first.
type Fetcher interface {
	Fetch(ctx context.Context, limit int) ([][]byte, error)
}

// IMAPFetcher reads INBOX over implicit TLS.
type IMAPFetcher struct {
	Addr     string
	Username string
	Password string
	Logger   *zap.Logger
}

func (f *IMAPFetcher) Fetch(ctx context.Context, limit int) ([][]byte, error) {
	if f.Username == "" || f.Password == "" {
		return nil, fmt.Errorf("email address and password are not configured")
	}
	if limit <= 0 {
		return nil, nil
	}

	c, err := client.DialTLS(f.Addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", f.Addr, err)
	}
	defer c.Logout()

	// The IMAP client has no context support; closing the connection
	// unblocks any pending command.
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(f.Username, f.Password); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var raws [][]byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			f.Logger.Debug("server returned no body", zap.Uint32("seq", msg.SeqNum))
			continue
		}
		b, err := io.ReadAll(body)
		if err != nil {
			f.Logger.Warn("could not read message body", zap.Uint32("seq", msg.SeqNum), zap.Error(err))
			continue
		}
		raws = append(raws, b)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	// Sequence order is oldest first.
	for i, j := 0, len(raws)-1; i < j; i, j = i+1, j-1 {
		raws[i], raws[j] = raws[j], raws[i]
	}
	return raws, nil
}
