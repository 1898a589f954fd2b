package email

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mailer sends email through one SMTP relay. Its settings never change after
// New, so one Mailer can serve any number of goroutines. Each delivery opens
// and closes its own connection.
type Mailer struct {
	config UserConfig
	logger zerolog.Logger
	debug  bool
}

// Option customizes a Mailer.
type Option func(*Mailer)

// WithLogger sets the logger used to report deliveries. Defaults to the
// global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Mailer) {
		m.logger = l
	}
}

// WithDebug traces each SMTP conversation to the logger at debug level.
func WithDebug(debug bool) Option {
	return func(m *Mailer) {
		m.debug = debug
	}
}

// New validates uc and returns a Mailer. An error means the configuration is
// unusable, and callers should treat it as fatal. That includes asking for
// both implicit TLS (UseSSL) and STARTTLS, which is rejected here instead of
// failing on every send.
func New(uc UserConfig, opts ...Option) (*Mailer, error) {
	c, err := uc.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}

	m := &Mailer{
		config: c,
		logger: log.Logger,
	}
	for _, o := range opts {
		o(m)
	}

	return m, nil
}

// Config returns a copy of the validated configuration.
func (m *Mailer) Config() UserConfig {
	return m.config
}

// Send delivers one message to the address to. It blocks until the server
// has accepted the message or the attempt was abandoned, and never reports
// failure to the caller. Failures only show up in the log.
func (m *Mailer) Send(ctx context.Context, to, subject, body string, ct ContentType) {
	msg := Message{
		From:        m.config.FromAddress,
		To:          to,
		Subject:     subject,
		Body:        body,
		ContentType: ct,
	}

	err := m.Deliver(ctx, msg)
	if err == nil {
		return
	}

	var de *DeliveryError
	if !errors.As(err, &de) {
		de = &DeliveryError{Kind: classify(err), Stage: "send", Err: err}
	}

	ev := m.logger.Error().
		Err(de.Err).
		Str("kind", de.Kind.String()).
		Str("stage", de.Stage).
		Str("to", to).
		Str("server", m.config.Address())

	switch de.Kind {
	case KindProtocol:
		ev.Msg("Failed to send email")
	case KindTransport:
		ev.Msg("Mail server connection error")
	default:
		ev.Msg("Unhandled mail error")
	}
}

// Deliver performs the same SMTP session as Send but returns the failure, if
// any, as a *DeliveryError. A nil error means the server accepted the message
// and the session was closed.
func (m *Mailer) Deliver(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return &DeliveryError{
			Kind:  KindUnclassified,
			Stage: "compose",
			Err:   errors.New("no recipient address"),
		}
	}
	if msg.From == "" {
		msg.From = m.config.FromAddress
	}

	raw, id, err := msg.compose(messageIDDomain(msg.From, m.config.LocalHostname))
	if err != nil {
		return fail("compose", err)
	}

	tc, err := m.config.tlsConfig()
	if err != nil {
		// A bad client key pair is a connection problem whatever error the
		// tls package returned.
		return &DeliveryError{Kind: KindTransport, Stage: "tls", Err: err}
	}

	c, err := m.dial(ctx, tc)
	if err != nil {
		return err
	}
	// Quit closes the connection on success. On every other path we're
	// abandoning the session, so we close it here.
	quit := false
	defer func() {
		if !quit {
			c.Close()
		}
	}()

	if m.config.StartTLS {
		if err := c.StartTLS(tc); err != nil {
			return fail("starttls", err)
		}
	}

	if m.config.Username != "" && m.config.Password != "" {
		auth := sasl.NewPlainClient("", m.config.Username, m.config.Password)
		if err := c.Auth(auth); err != nil {
			return fail("auth", err)
		}
	}

	if err := c.Mail(m.config.FromAddress, nil); err != nil {
		return fail("mail", err)
	}

	if err := c.Rcpt(msg.To); err != nil {
		return fail("rcpt", err)
	}

	w, err := c.Data()
	if err != nil {
		return fail("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fail("data", err)
	}
	// Close waits for the server to accept the message.
	if err := w.Close(); err != nil {
		return fail("data", err)
	}

	if err := c.Quit(); err != nil {
		return fail("quit", err)
	}
	quit = true

	m.logger.Info().
		Str("to", msg.To).
		Str("messageID", id).
		Str("server", m.config.Address()).
		Msg("sent email")

	return nil
}

// dial connects to the server, over TLS if UseSSL is set, and introduces us
// with the configured local hostname.
func (m *Mailer) dial(ctx context.Context, tc *tls.Config) (*smtp.Client, error) {
	nd := &net.Dialer{Timeout: m.config.Timeout}

	var conn net.Conn
	var err error
	if m.config.UseSSL {
		// The handshake happens here, before the server's greeting.
		td := &tls.Dialer{NetDialer: nd, Config: tc}
		conn, err = td.DialContext(ctx, "tcp", m.config.Address())
	} else {
		conn, err = nd.DialContext(ctx, "tcp", m.config.Address())
	}
	if err != nil {
		return nil, fail("dial", err)
	}

	c, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		conn.Close()
		return nil, fail("greeting", err)
	}

	if m.config.Timeout > 0 {
		c.CommandTimeout = m.config.Timeout
		c.SubmissionTimeout = m.config.Timeout
	}

	if m.debug {
		c.DebugWriter = &protocolTrace{
			logger: m.logger.With().Str("server", m.config.Address()).Logger(),
		}
	}

	if m.config.LocalHostname != "" {
		if err := c.Hello(m.config.LocalHostname); err != nil {
			c.Close()
			return nil, fail("hello", err)
		}
	}

	return c, nil
}

// protocolTrace writes each chunk of an SMTP conversation to a logger at
// debug level. AUTH arguments are credentials, so they never reach the log.
type protocolTrace struct {
	logger zerolog.Logger
}

func (pt *protocolTrace) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\r\n"), "\r\n") {
		if line == "" {
			continue
		}
		if f := strings.Fields(line); len(f) > 1 && strings.EqualFold(f[0], "AUTH") {
			line = f[0] + " " + f[1] + " [redacted]"
		}
		pt.logger.Debug().Str("line", line).Msg("smtp")
	}
	return len(b), nil
}
