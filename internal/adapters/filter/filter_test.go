package filter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/mikey/mail-classifier/internal/core"
)

const multipartMessage = "From: \"Shop\" <deals@shop.example>\r\n" +
	"To: user@example.com\r\n" +
	"Subject: =?utf-8?q?Gro=C3=9Fer_Sale?=\r\n" +
	"X-Mail-Category: Promotional Email\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Everything must go\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Everything <b>must</b> go</p>\r\n" +
	"--b1--\r\n"

const htmlMessage = "From: promo@casino.example\r\n" +
	"Subject: Free spins\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<html><style>p{}</style><body><p>Claim your   bonus</p></body></html>\r\n"

type fakeEngine struct {
	mu       sync.Mutex
	result   core.ClassificationResult
	seen     []*core.InboundMessage
	outcomes []*core.ClassificationRecord
}

func (e *fakeEngine) ClassifyMessage(_ context.Context, msg *core.InboundMessage) *core.ClassificationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, msg)
	res := e.result
	res.AnalyzedAt = time.Now()
	return &res
}

func (e *fakeEngine) RecordOutcome(_ context.Context, rec *core.ClassificationRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, rec)
	return nil
}

func spamResult() core.ClassificationResult {
	return core.ClassificationResult{
		Verdict: core.ClassificationVerdict{
			Category:   core.CategoryGambling,
			Confidence: 0.85,
			Reason:     "Gambling keywords in subject",
			Rule:       "gambling",
		},
		Threat:  &core.ThreatAssessment{Level: core.ThreatHighRisk, Score: 0.31},
		Profile: core.DomainProfile{Domain: "casino.example"},
	}
}

func TestParseMessage(t *testing.T) {
	t.Run("multipart prefers plain text", func(t *testing.T) {
		msg, err := ParseMessage([]byte(multipartMessage), "bounce@shop.example")
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		if msg.Sender != "deals@shop.example" || msg.DisplayName != "Shop" {
			t.Errorf("sender = %q name = %q", msg.Sender, msg.DisplayName)
		}
		if msg.Subject != "Großer Sale" {
			t.Errorf("subject = %q", msg.Subject)
		}
		if strings.TrimSpace(msg.Body) != "Everything must go" {
			t.Errorf("body = %q", msg.Body)
		}
		if !strings.Contains(msg.Headers, "Content-Type: multipart/alternative") || strings.Contains(msg.Headers, "--b1") {
			t.Errorf("headers = %q", msg.Headers)
		}
	})

	t.Run("html only is stripped", func(t *testing.T) {
		msg, err := ParseMessage([]byte(htmlMessage), "")
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		if msg.Body != "Claim your bonus" {
			t.Errorf("body = %q", msg.Body)
		}
	})

	t.Run("envelope fallback", func(t *testing.T) {
		msg, err := ParseMessage([]byte("Subject: hi\r\n\r\nbody\r\n"), "env@sender.example")
		if err != nil {
			t.Fatalf("ParseMessage: %v", err)
		}
		if msg.Sender != "env@sender.example" {
			t.Errorf("sender = %q", msg.Sender)
		}
	})
}

func TestStamp(t *testing.T) {
	res := spamResult()
	s := NewStamper(HeaderNames{}, "[SPAM] ")

	out, err := s.Stamp([]byte(multipartMessage), &res)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	stamped := string(out)

	if strings.Contains(stamped, "X-Mail-Category: Promotional Email") {
		t.Error("forged category header survived")
	}
	for _, want := range []string{
		"X-Mail-Category: Gambling Spam",
		"X-Mail-Confidence: 0.8500",
		"X-Mail-Preserve: false",
		"X-Mail-Threat: HIGH_RISK score=0.31",
		"Everything must go",
	} {
		if !strings.Contains(stamped, want) {
			t.Errorf("stamped message is missing %q", want)
		}
	}

	msg, err := ParseMessage(out, "")
	if err != nil {
		t.Fatalf("ParseMessage(stamped): %v", err)
	}
	if msg.Subject != "[SPAM] Großer Sale" {
		t.Errorf("subject = %q", msg.Subject)
	}

	// Stamping twice does not stack the prefix
	again, err := s.Stamp(out, &res)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if bytes.Count(again, []byte("X-Mail-Category:")) != 1 {
		t.Error("category header duplicated")
	}
	msg, _ = ParseMessage(again, "")
	if msg.Subject != "[SPAM] Großer Sale" {
		t.Errorf("subject after restamp = %q", msg.Subject)
	}
}

func TestStampPreservedKeepsSubject(t *testing.T) {
	res := spamResult()
	res.ShouldPreserve = true
	out, err := NewStamper(DefaultHeaderNames(), "[SPAM] ").Stamp([]byte(htmlMessage), &res)
	if err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	if !strings.Contains(string(out), "Subject: Free spins\r\n") {
		t.Errorf("preserved subject rewritten:\n%s", out)
	}
}

type sinkBackend struct {
	delivered chan []byte
}

func (b *sinkBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &sinkSession{b: b}, nil
}

type sinkSession struct {
	b *sinkBackend
}

func (s *sinkSession) Reset()                               {}
func (s *sinkSession) Logout() error                        { return nil }
func (s *sinkSession) Mail(string, *smtp.MailOptions) error { return nil }
func (s *sinkSession) Rcpt(string, *smtp.RcptOptions) error { return nil }
func (s *sinkSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.delivered <- data
	return nil
}

// startSink runs an SMTP server standing in for Postfix
func startSink(t *testing.T) (string, int, chan []byte) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	backend := &sinkBackend{delivered: make(chan []byte, 1)}
	server := smtp.NewServer(backend)
	server.Domain = "localhost"
	go server.Serve(l)
	t.Cleanup(func() { server.Close() })

	host, port, _ := net.SplitHostPort(l.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p, backend.delivered
}

func startFilter(t *testing.T, engine *fakeEngine, cfg PostfixConfig) *PostfixFilter {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	f := NewPostfixFilter(engine, cfg, nil)
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { f.Stop() })
	return f
}

// sendMail delivers a message over plain SMTP. smtp.SendMail insists on
// STARTTLS, which the filter does not offer.
func sendMail(t *testing.T, addr, from string, to []string, r io.Reader) error {
	t.Helper()
	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("Dial %s: %v", addr, err)
	}
	defer c.Close()
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func TestPostfixFilterForwardsStampedMail(t *testing.T) {
	host, port, delivered := startSink(t)
	engine := &fakeEngine{result: spamResult()}
	f := startFilter(t, engine, PostfixConfig{
		PostfixAddr:    host,
		PostfixPort:    port,
		PostfixEnabled: true,
		RecordOutcomes: true,
	})

	err := sendMail(t, f.Addr(), "bounce@casino.example", []string{"user@example.com"}, strings.NewReader(htmlMessage))
	if err != nil {
		t.Fatalf("sendMail: %v", err)
	}

	select {
	case data := <-delivered:
		if !strings.Contains(string(data), "X-Mail-Category: Gambling Spam") {
			t.Errorf("forwarded mail was not stamped:\n%s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("mail was not forwarded")
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.seen) != 1 || engine.seen[0].Sender != "promo@casino.example" {
		t.Errorf("classified messages = %+v", engine.seen)
	}
	if len(engine.outcomes) != 1 || engine.outcomes[0].Action != core.ActionDeleted {
		t.Errorf("outcomes = %+v", engine.outcomes)
	}
}

func TestPostfixFilterRejectsDeletes(t *testing.T) {
	host, port, delivered := startSink(t)
	f := startFilter(t, &fakeEngine{result: spamResult()}, PostfixConfig{
		BlockDeletes:   true,
		PostfixAddr:    host,
		PostfixPort:    port,
		PostfixEnabled: true,
	})

	err := sendMail(t, f.Addr(), "bounce@casino.example", []string{"user@example.com"}, strings.NewReader(htmlMessage))
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
		t.Fatalf("sendMail error = %v, want a 550", err)
	}

	select {
	case <-delivered:
		t.Fatal("rejected mail was forwarded")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPostfixFilterKeepsPreservedMail(t *testing.T) {
	res := spamResult()
	res.Verdict.Category = core.CategoryPromotional
	res.ShouldPreserve = true
	f := NewPostfixFilter(&fakeEngine{result: res}, PostfixConfig{BlockDeletes: true, ModifySubject: true}, nil)

	out, got, err := f.Filter(context.Background(), "", []byte(htmlMessage))
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if out == nil || !got.ShouldPreserve {
		t.Fatal("preserved mail was rejected")
	}
	if !strings.Contains(string(out), "Subject: Free spins\r\n") {
		t.Errorf("preserved subject rewritten:\n%s", out)
	}
}

func TestCliFilterReport(t *testing.T) {
	var buf bytes.Buffer
	f := NewCliFilter(&fakeEngine{result: spamResult()}, nil, &buf, true)

	res, err := f.ProcessEmail(context.Background(), []byte(htmlMessage), "")
	if err != nil {
		t.Fatalf("ProcessEmail: %v", err)
	}
	if res.Verdict.Category != core.CategoryGambling {
		t.Errorf("category = %q", res.Verdict.Category)
	}
	for _, want := range []string{"Free spins", "Category: Gambling Spam", "Threat: HIGH_RISK", "Domain: casino.example"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report is missing %q:\n%s", want, buf.String())
		}
	}
}
