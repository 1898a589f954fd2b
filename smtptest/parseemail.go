package smtptest

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// ParsedEmail is a single-part message pulled apart for assertions.
type ParsedEmail struct {
	Header mail.Header
	// Body is decoded according to Content-Transfer-Encoding.
	Body string
}

// ParseEmail reads a raw single-part message as received by a test server.
// Subject and other encoded headers are returned undecoded. Use
// mime.WordDecoder if a test needs them.
func ParseEmail(raw string) (ParsedEmail, error) {
	m, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return ParsedEmail{}, fmt.Errorf("can't parse the message: %w", err)
	}

	var r io.Reader = m.Body
	switch strings.ToLower(m.Header.Get("Content-Transfer-Encoding")) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return ParsedEmail{}, fmt.Errorf("can't decode the message body: %w", err)
	}

	return ParsedEmail{
		Header: m.Header,
		Body:   string(b),
	}, nil
}
