// Package email fetches the latest messages of a mailbox and asks the
// language model for a short analysis of each one.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

// Message is the text content of one email.
type Message struct {
	Sender  string
	Subject string
	Body    string
}

// Scanner decides whether an attachment may be opened.
type Scanner interface {
	IsSafe(ctx context.Context, data []byte) bool
}

// Parser turns raw RFC 822 messages into Message values, reading PDF
// attachments that the scanner clears.
type Parser struct {
	scanner Scanner
	pdfText func([]byte) (string, error)
	logger  *zap.Logger
}

func NewParser(scanner Scanner, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{scanner: scanner, pdfText: ExtractPDFText, logger: logger}
}

// Parse extracts sender, subject and body. The body is the first text/plain
// part, or the text of the first text/html part when there is no plain part,
// followed by the text of safe PDF attachments.
func (p *Parser) Parse(ctx context.Context, raw []byte) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Message{}, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	var msg Message
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	} else {
		msg.Sender = mr.Header.Get("From")
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}

	var plain, html string
	var attachments strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			p.logger.Debug("stopping at unreadable part", zap.String("subject", msg.Subject), zap.Error(err))
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch {
			case ct == "text/plain" && plain == "":
				if b, err := io.ReadAll(part.Body); err == nil {
					plain = string(b)
				}
			case ct == "text/html" && html == "":
				if b, err := io.ReadAll(part.Body); err == nil {
					html = htmlToText(string(b))
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				p.logger.Warn("could not read attachment", zap.String("file", filename), zap.Error(err))
				continue
			}
			attachments.WriteString(p.attachmentText(ctx, filename, data))
		}
	}

	body := plain
	if body == "" {
		body = html
	}
	msg.Body = strings.TrimSpace(body + "\n\n" + attachments.String())
	return msg, nil
}

func (p *Parser) attachmentText(ctx context.Context, filename string, data []byte) string {
	p.logger.Info("PDF attachment found", zap.String("file", filename))
	if p.scanner != nil && !p.scanner.IsSafe(ctx, data) {
		p.logger.Warn("attachment judged unsafe, ignoring", zap.String("file", filename))
		return fmt.Sprintf("\n\n--- ATTACHMENT '%s' IGNORED: POTENTIALLY DANGEROUS ---\n", filename)
	}
	text, err := p.pdfText(data)
	if err != nil {
		p.logger.Warn("could not read PDF deemed safe", zap.String("file", filename), zap.Error(err))
		return ""
	}
	return text + "\n"
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}
