package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mikey/mail-classifier/internal/core"
)

// MaxBodyBytes caps how much decoded text is kept for classification
const MaxBodyBytes = 256 * 1024

var htmlTagRE = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)

// ParseMessage reads an RFC 5322 message into the fields the engine looks at.
// envelopeFrom is used when the message has no parseable From header.
func ParseMessage(raw []byte, envelopeFrom string) (*core.InboundMessage, error) {
	header, _ := splitMessage(raw)
	msg := &core.InboundMessage{
		Sender:  envelopeFrom,
		Headers: string(header),
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return nil, fmt.Errorf("failed to parse email message: %w", err)
	}
	defer mr.Close()

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
		msg.DisplayName = from[0].Name
	} else if v := mr.Header.Get("From"); v != "" && msg.Sender == "" {
		msg.Sender = v
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}

	var plain, html strings.Builder
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if p == nil {
			if plain.Len() > 0 || html.Len() > 0 {
				break
			}
			return msg, nil
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		switch ct {
		case "text/plain", "":
			appendText(&plain, p.Body)
		case "text/html":
			appendText(&html, p.Body)
		}
	}

	switch {
	case plain.Len() > 0:
		msg.Body = plain.String()
	case html.Len() > 0:
		msg.Body = strings.Join(strings.Fields(htmlTagRE.ReplaceAllString(html.String(), " ")), " ")
	}
	return msg, nil
}

// appendText copies r into b up to MaxBodyBytes in total
func appendText(b *strings.Builder, r io.Reader) {
	remaining := MaxBodyBytes - b.Len()
	if remaining <= 0 {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(remaining)))
	if err != nil && len(data) == 0 && !message.IsUnknownEncoding(err) {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.Write(data)
}

// splitMessage returns the raw header block and the body that follows the
// first blank line
func splitMessage(raw []byte) (header, body []byte) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i+2], raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+1], raw[i+2:]
	}
	return raw, nil
}
