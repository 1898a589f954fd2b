package email

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"syscall"

	"github.com/emersion/go-smtp"
)

// Kind tells apart the ways a delivery can fail.
type Kind int

const (
	// KindUnclassified is anything we didn't anticipate.
	KindUnclassified Kind = iota
	// KindProtocol means the server answered with an error reply, e.g., it
	// rejected the recipient or the credentials.
	KindProtocol
	// KindTransport covers DNS, socket and TLS failures, i.e., we couldn't
	// hold a conversation with the server at all.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	default:
		return "unclassified"
	}
}

// DeliveryError is returned by Deliver. Stage names the step of the SMTP
// session that failed, e.g., "starttls" or "rcpt".
type DeliveryError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *DeliveryError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// fail wraps err in a *DeliveryError, classifying it unless it already is one.
func fail(stage string, err error) error {
	var de *DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &DeliveryError{
		Kind:  classify(err),
		Stage: stage,
		Err:   err,
	}
}

// classify sorts err into a Kind. SMTP replies come first since nothing else
// carries a reply code.
func classify(err error) Kind {
	var (
		smtpErr     *smtp.SMTPError
		protoErr    *textproto.Error
		badResponse textproto.ProtocolError
	)
	if errors.As(err, &smtpErr) || errors.As(err, &protoErr) || errors.As(err, &badResponse) {
		return KindProtocol
	}

	var (
		netErr      net.Error // includes *net.OpError and *net.DNSError
		pathErr     *fs.PathError
		errno       syscall.Errno
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransport
	case errors.As(err, &netErr):
		return KindTransport
	case errors.As(err, &pathErr), errors.As(err, &errno):
		return KindTransport
	case errors.As(err, &verifyErr), errors.As(err, &recordErr):
		return KindTransport
	case errors.As(err, &unknownCA), errors.As(err, &hostnameErr), errors.As(err, &invalidErr):
		return KindTransport
	}

	return KindUnclassified
}
