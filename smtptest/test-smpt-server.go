package smtptest

// Server is an SMTP server that runs for the duration of a test (or test
// suite) and can return the messages sent to it.
type Server interface {
	// Start accepts connections until Close is called. Blocking. Any
	// resources the server needs, such as its listener, must already exist
	// so that clients can connect before Start is scheduled.
	Start() error

	// Close stops the server. While this is designed not to return an error
	// so it's easier to use with defer, implementations should log failures
	// to close so the test operator can chase down rogue listeners.
	Close()

	// RetrieveEmails returns every message the server accepted after time t
	// in Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]Received, error)

	// Address returns the host:port of the server.
	Address() string
}
