package smtptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

// Mode is the way clients secure their connection to an InProcessServer.
type Mode int

const (
	// Plaintext servers don't advertise STARTTLS.
	Plaintext Mode = iota
	// StartTLS servers accept plaintext connections and advertise STARTTLS.
	StartTLS
	// ImplicitTLS servers expect a TLS handshake before the SMTP greeting.
	ImplicitTLS
)

// Options configures an InProcessServer. The zero value is a plaintext
// server that accepts mail from anybody.
type Options struct {
	Mode Mode
	// Paths to the key and cert used for TLS. Required unless Mode is
	// Plaintext. The cert must be a root cert.
	KeyPath  string
	CertPath string
	// RequireAuth rejects MAIL from clients that didn't authenticate.
	RequireAuth bool
	// AllowInsecureAuth accepts AUTH over plaintext.
	AllowInsecureAuth bool
	// Username and Password, if set, are the only credentials Login
	// accepts. Otherwise any non-empty pair is fine, since we don't want to
	// couple this with specific test configurations.
	Username string
	Password string
	// RequireClientCert makes the TLS handshake fail for clients that
	// don't present a certificate.
	RequireClientCert bool
	// RejectRecipients lists addresses RCPT answers with 550.
	RejectRecipients []string
	// Logger receives the server's internal errors. Nil discards them.
	Logger *zerolog.Logger
}

// Received is one message accepted by an InProcessServer, along with what
// the server knew about the session that sent it.
type Received struct {
	Created time.Time
	From    string
	To      []string
	Body    string
	// Username is empty if the client never authenticated.
	Username string
	// TLS reports whether the session was encrypted when MAIL arrived.
	TLS bool
	// ClientCerts is the number of certificates the client presented.
	ClientCerts int
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	opts Options
}

// Login implements smtp.Backend.
func (be *Backend) Login(state *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	be.recordLogin()
	if username == "" || password == "" {
		return nil, errors.New("no username or password provided")
	}
	if be.opts.Username != "" && (username != be.opts.Username || password != be.opts.Password) {
		return nil, &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication credentials invalid",
		}
	}
	return be.newSession(state, username), nil
}

// AnonymousLogin implements smtp.Backend.
func (be *Backend) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	if be.opts.RequireAuth {
		return nil, smtp.ErrAuthRequired
	}
	return be.newSession(state, ""), nil
}

func (be *Backend) newSession(state *smtp.ConnectionState, username string) *session {
	s := &session{
		store:    be.InMemoryEmailStore,
		reject:   be.opts.RejectRecipients,
		username: username,
	}
	if state != nil {
		s.tls = state.TLS.HandshakeComplete
		s.clientCerts = len(state.TLS.PeerCertificates)
	}
	return s
}

// session implements smtp.Session for one client connection.
type session struct {
	store       *InMemoryEmailStore
	reject      []string
	username    string
	tls         bool
	clientCerts int
	from        string
	to          []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session.
func (s *session) Rcpt(to string) error {
	for _, r := range s.reject {
		if strings.EqualFold(r, to) {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      fmt.Sprintf("No such user <%v>", to),
			}
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	s.store.saveEmail(Received{
		From:        s.from,
		To:          append([]string(nil), s.to...),
		Body:        string(buf),
		Username:    s.username,
		TLS:         s.tls,
		ClientCerts: s.clientCerts,
	})
	return nil
}

// InMemoryEmailStore retains accepted messages in memory for comparison
// against a test's expected output. Designed to be goroutine safe since we
// don't know how many goroutines will be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Received
	logins   int
}

// saveEmail stores the message along with a timestamp created just prior to
// saving
func (es *InMemoryEmailStore) saveEmail(m Received) {
	es.mu.Lock()
	defer es.mu.Unlock()

	m.Created = time.Now()
	es.messages = append(es.messages, m)
}

func (es *InMemoryEmailStore) recordLogin() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.logins++
}

// Logins returns how many AUTH attempts reached the backend, successful or
// not.
func (es *InMemoryEmailStore) Logins() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.logins
}

// RetrieveEmails returns every message received after epoch nanoseconds t.
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]Received, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Received, 0, len(es.messages))
	for _, m := range es.messages {
		if m.Created.UnixNano() >= t {
			r = append(r, m)
		}
	}
	return r, nil
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	// Embedded so tests can reach RetrieveEmails and Logins directly.
	*InMemoryEmailStore
	listener net.Listener
	logger   zerolog.Logger
}

// NewInProcessServer creates an InProcessServer listening on a random port
// of 127.0.0.1, including configuring its SMTP server to store incoming
// messages in memory. The listener is open once this returns, so clients may
// connect before Start runs.
func NewInProcessServer(opts Options) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Received{},
	}

	srv := smtp.NewServer(&Backend{
		InMemoryEmailStore: is,
		opts:               opts,
	})

	srv.Domain = "localhost"
	srv.AllowInsecureAuth = opts.AllowInsecureAuth
	srv.AuthDisabled = false
	// Strict enforces <address> syntax in MAIL and RCPT.
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	srv.ErrorLog = serverLog{logger}

	if opts.Mode != Plaintext {
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("can't load the server certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		if opts.RequireClientCert {
			srv.TLSConfig.ClientAuth = tls.RequireAnyClientCert
		}
	}

	l, err := net.Listen("tcp", net.JoinHostPort(Host, "0"))
	if err != nil {
		return nil, err
	}
	if opts.Mode == ImplicitTLS {
		l = tls.NewListener(l, srv.TLSConfig)
	}
	srv.Addr = l.Addr().String()

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		listener:           l,
		logger:             logger,
	}, nil
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	if err := is.Server.Close(); err != nil {
		is.logger.Error().Err(err).Str("address", is.Address()).Msg("can't close the test SMTP server")
	}
	// Serve might not have registered the listener yet.
	is.listener.Close()
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.Server.Addr
}

// Port returns the port the test SMTP server listens on.
func (is *InProcessServer) Port() int {
	return is.listener.Addr().(*net.TCPAddr).Port
}

// serverLog routes the smtp.Server's internal errors to zerolog.
type serverLog struct {
	logger zerolog.Logger
}

func (sl serverLog) Printf(format string, v ...interface{}) {
	sl.logger.Error().Msgf(format, v...)
}

func (sl serverLog) Println(v ...interface{}) {
	sl.logger.Error().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}
