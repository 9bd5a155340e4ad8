package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/mikey/mail-classifier/internal/core"
)

// HeaderNames are the result headers stamped on filtered mail
type HeaderNames struct {
	Category   string
	Confidence string
	Reason     string
	Preserve   string
	Threat     string
}

// DefaultHeaderNames returns the X-Mail-* header names
func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Category:   "X-Mail-Category",
		Confidence: "X-Mail-Confidence",
		Reason:     "X-Mail-Reason",
		Preserve:   "X-Mail-Preserve",
		Threat:     "X-Mail-Threat",
	}
}

func (n HeaderNames) withDefaults() HeaderNames {
	def := DefaultHeaderNames()
	if n.Category == "" {
		n.Category = def.Category
	}
	if n.Confidence == "" {
		n.Confidence = def.Confidence
	}
	if n.Reason == "" {
		n.Reason = def.Reason
	}
	if n.Preserve == "" {
		n.Preserve = def.Preserve
	}
	if n.Threat == "" {
		n.Threat = def.Threat
	}
	return n
}

// Stamper rewrites a message's header with the classification result
type Stamper struct {
	names         HeaderNames
	subjectPrefix string
}

// NewStamper creates a stamper. An empty subjectPrefix leaves subjects alone.
func NewStamper(names HeaderNames, subjectPrefix string) *Stamper {
	return &Stamper{names: names.withDefaults(), subjectPrefix: subjectPrefix}
}

// Stamp returns raw with result headers added. Result headers already
// present are removed first so upstream senders cannot forge them.
func (s *Stamper) Stamp(raw []byte, res *core.ClassificationResult) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	for _, name := range []string{s.names.Category, s.names.Confidence, s.names.Reason, s.names.Preserve, s.names.Threat} {
		h.Del(name)
	}

	if res.Threat != nil {
		h.Add(s.names.Threat, fmt.Sprintf("%s score=%.2f", res.Threat.Level, res.Threat.Score))
	}
	h.Add(s.names.Preserve, fmt.Sprintf("%t", res.ShouldPreserve))
	h.Add(s.names.Reason, encodeValue(res.Verdict.Reason))
	h.Add(s.names.Confidence, fmt.Sprintf("%.4f", res.Verdict.Confidence))
	h.Add(s.names.Category, string(res.Verdict.Category))

	if s.subjectPrefix != "" && !res.ShouldPreserve {
		subject := h.Get("Subject")
		if decoded, err := new(mime.WordDecoder).DecodeHeader(subject); err == nil {
			subject = decoded
		}
		if !strings.HasPrefix(subject, s.subjectPrefix) {
			h.Set("Subject", encodeValue(s.subjectPrefix+subject))
		}
	}

	var out bytes.Buffer
	if err := textproto.WriteHeader(&out, h); err != nil {
		return nil, fmt.Errorf("failed to write message header: %w", err)
	}
	if _, err := io.Copy(&out, br); err != nil {
		return nil, fmt.Errorf("failed to copy message body: %w", err)
	}
	return out.Bytes(), nil
}

// encodeValue Q-encodes values that are not plain ASCII and strips line breaks
func encodeValue(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	for _, r := range v {
		if r > 0x7e {
			return mime.QEncoding.Encode("utf-8", v)
		}
	}
	return v
}
