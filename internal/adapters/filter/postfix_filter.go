package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/metrics"
)

// Classifier is the engine surface the filters use
type Classifier interface {
	ClassifyMessage(ctx context.Context, msg *core.InboundMessage) *core.ClassificationResult
	RecordOutcome(ctx context.Context, rec *core.ClassificationRecord) error
}

// PostfixConfig configures the content filter
type PostfixConfig struct {
	ListenAddr string
	// BlockDeletes rejects mail the engine recommends deleting instead of
	// stamping and forwarding it
	BlockDeletes   bool
	ModifySubject  bool
	SubjectPrefix  string
	Headers        HeaderNames
	PostfixAddr    string
	PostfixPort    int
	PostfixEnabled bool
	// RecordOutcomes persists the engine recommendation as the message action
	RecordOutcomes  bool
	ClassifyTimeout time.Duration
	MaxMessageBytes int64
}

// DefaultSubjectPrefix is used when subject rewriting is on and no prefix is set
const DefaultSubjectPrefix = "[**SPAM**] "

// PostfixFilter implements a Postfix content filter: mail arrives over SMTP, is
// classified and stamped, then reinjected into Postfix
type PostfixFilter struct {
	engine  Classifier
	cfg     PostfixConfig
	stamper *Stamper
	logger  *zap.Logger

	mu       sync.Mutex
	server   *smtp.Server
	listener net.Listener
}

var _ core.EmailFilter = (*PostfixFilter)(nil)

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(engine Classifier, cfg PostfixConfig, logger *zap.Logger) *PostfixFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := ""
	if cfg.ModifySubject {
		prefix = cfg.SubjectPrefix
		if prefix == "" {
			prefix = DefaultSubjectPrefix
		}
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 10 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 30 * 1024 * 1024
	}
	return &PostfixFilter{
		engine:  engine,
		cfg:     cfg,
		stamper: NewStamper(cfg.Headers, prefix),
		logger:  logger,
	}
}

// Start listens on the configured address and serves in the background
func (f *PostfixFilter) Start() error {
	l, err := net.Listen("tcp", f.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", f.cfg.ListenAddr, err)
	}

	server := smtp.NewServer(&smtpBackend{filter: f})
	server.Addr = f.cfg.ListenAddr
	server.Domain = "localhost"
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.MaxMessageBytes = f.cfg.MaxMessageBytes
	server.MaxRecipients = 50

	f.mu.Lock()
	f.server = server
	f.listener = l
	f.mu.Unlock()

	f.logger.Info("Postfix filter starting", zap.String("address", l.Addr().String()))
	go func() {
		if err := server.Serve(l); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address once started
func (f *PostfixFilter) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return f.cfg.ListenAddr
	}
	return f.listener.Addr().String()
}

// Stop stops the Postfix filter service
func (f *PostfixFilter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// Filter classifies and stamps one raw message. The returned bytes are nil
// when the message should be rejected.
func (f *PostfixFilter) Filter(ctx context.Context, envelopeFrom string, raw []byte) ([]byte, *core.ClassificationResult, error) {
	msg, err := ParseMessage(raw, envelopeFrom)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ClassifyTimeout)
	defer cancel()
	res := f.engine.ClassifyMessage(ctx, msg)
	metrics.IncrementVerdict(string(res.Verdict.Category))

	if f.cfg.RecordOutcomes {
		action := core.ActionPreserved
		if !res.ShouldPreserve {
			action = core.ActionDeleted
		}
		if err := f.engine.RecordOutcome(ctx, core.Outcome(msg, res, action)); err != nil {
			f.logger.Warn("Failed to record outcome", zap.String("sender", msg.Sender), zap.Error(err))
		}
	}

	if !res.ShouldPreserve && f.cfg.BlockDeletes {
		return nil, res, nil
	}
	stamped, err := f.stamper.Stamp(raw, res)
	if err != nil {
		return nil, res, err
	}
	return stamped, res, nil
}

// sendToPostfix sends the processed email back to Postfix on the configured port
func (f *PostfixFilter) sendToPostfix(ctx context.Context, sender string, recipients []string, emailData []byte) error {
	postfixAddr := net.JoinHostPort(f.cfg.PostfixAddr, fmt.Sprintf("%d", f.cfg.PostfixPort))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", postfixAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(emailData); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send email data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		// the message is already accepted
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	filter *PostfixFilter
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{filter: b.filter}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data classifies the message, then rejects or reinjects it
func (s *smtpSession) Data(r io.Reader) error {
	f := s.filter
	raw, err := io.ReadAll(r)
	if err != nil {
		f.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	ctx := context.Background()
	stamped, res, err := f.Filter(ctx, s.sender, raw)
	if err != nil {
		// pass mail through untouched rather than lose it
		f.logger.Error("Failed to filter email", zap.String("sender", s.sender), zap.Error(err))
		stamped = raw
	}

	if stamped == nil {
		f.logger.Info("Rejecting email",
			zap.String("from", s.sender),
			zap.String("category", string(res.Verdict.Category)),
			zap.Float64("confidence", res.Verdict.Confidence),
			zap.String("reason", res.Verdict.Reason))
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      fmt.Sprintf("Rejected as %s", strings.ToLower(string(res.Verdict.Category))),
		}
	}

	if f.cfg.PostfixEnabled {
		if err := f.sendToPostfix(ctx, s.sender, s.recipients, stamped); err != nil {
			f.logger.Error("Failed to send email back to Postfix",
				zap.Error(err),
				zap.String("sender", s.sender))
			return err
		}
	} else {
		f.logger.Warn("Postfix forwarding disabled, this is likely a misconfiguration")
	}

	if res != nil {
		f.logger.Info("Processed email",
			zap.String("from", s.sender),
			zap.String("category", string(res.Verdict.Category)),
			zap.Float64("confidence", res.Verdict.Confidence),
			zap.Bool("preserve", res.ShouldPreserve))
	}
	return nil
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}
