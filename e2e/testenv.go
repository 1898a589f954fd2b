package e2e

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"

	"github.com/ptgott/one-mailer/smtptest"

	"github.com/rs/zerolog/log"
)

const (
	tempDirPathName = "tempTestDir"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	mode              smtptest.Mode
	requireAuth       bool
	username          string
	password          string
	requireClientCert bool
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  smtptest.Server
	port        int
	keyPath     string
	certPath    string
	tempDirPath string // must be populated programmatically
}

// startTestEnvironment spins up dependencies. Callers should defer a call to
// tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{}

	p, err := os.MkdirTemp("", tempDirPathName)
	// Ignore errors due to the fact that the directory already exists
	if err != nil && !errors.Is(err, os.ErrExist) {
		// Shouldn't happen
		return te, fmt.Errorf("could not create the test config directory: %w", err)
	}

	te.tempDirPath = p

	key, cert, err := smtptest.GenerateTLSFiles(t)
	if err != nil {
		return te, err
	}
	te.keyPath = key
	te.certPath = cert

	sl := log.With().Str("component", "smtptest").Str("test", t.Name()).Logger()
	ts, err := smtptest.NewInProcessServer(smtptest.Options{
		Logger:            &sl,
		Mode:              c.mode,
		KeyPath:           key,
		CertPath:          cert,
		RequireAuth:       c.requireAuth,
		Username:          c.username,
		Password:          c.password,
		RequireClientCert: c.requireClientCert,
	})
	if err != nil {
		return te, fmt.Errorf("could not start the test SMTP server: %w", err)
	}

	te.SMTPServer = ts
	te.port = ts.Port()

	go ts.Start()

	return te, nil
}

// address returns what a config file should use as SMTP_HOST and SMTP_PORT.
func (te *testEnvironment) address() (host string, port string) {
	return smtptest.Host, strconv.Itoa(te.port)
}

// closedPort returns a port nothing on Host is listening on, at least for
// now.
func closedPort() (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(smtptest.Host, "0"))
	if err != nil {
		return 0, err
	}
	p := l.Addr().(*net.TCPAddr).Port
	return p, l.Close()
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}

	// This error will be nil if the path doesn't exist. See:
	// https://golang.org/pkg/os/#RemoveAll
	err := os.RemoveAll(te.tempDirPath)

	// We're not expecting this to return an error since it's designed to call with
	// defer. Instead we panic, and hopefully we can prevent any panic-causing
	// error from happening again.
	if err != nil {
		panic(fmt.Sprintf("can't delete the test config directory: %v", err))
	}
}
