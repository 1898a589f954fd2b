package email

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"
)

// ContentType is the MIME subtype of a message body.
type ContentType string

const (
	Plain ContentType = "plain"
	HTML  ContentType = "html"
)

// ParseContentType accepts "plain" or "html", with or without the "text/"
// prefix. An empty string means Plain.
func ParseContentType(s string) (ContentType, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "text/") {
	case "", "plain":
		return Plain, nil
	case "html":
		return HTML, nil
	}
	return "", fmt.Errorf("unsupported content type %q: must be \"plain\" or \"html\"", s)
}

// MIMEType returns the full MIME type, e.g., text/plain.
func (ct ContentType) MIMEType() string {
	if ct == "" {
		return "text/" + string(Plain)
	}
	return "text/" + string(ct)
}

// Message is a single email. It only lives for the duration of one delivery.
type Message struct {
	From        string
	To          string
	Subject     string
	Body        string
	ContentType ContentType
}

// compose renders m as a single-part MIME message with a UTF-8 body. The
// returned ID is the value of the Message-ID header.
func (m Message) compose(domain string) (raw []byte, id string, err error) {
	ct, err := ParseContentType(string(m.ContentType))
	if err != nil {
		return nil, "", err
	}

	id = fmt.Sprintf("<%v@%v>", uuid.New().String(), domain)

	// gomail defaults to UTF-8 with quoted-printable transfer encoding.
	gm := gomail.NewMessage()
	gm.SetHeader("Subject", m.Subject)
	gm.SetHeader("From", m.From)
	gm.SetHeader("To", m.To)
	gm.SetHeader("Message-ID", id)
	gm.SetBody(ct.MIMEType(), m.Body)

	var buf bytes.Buffer
	if _, err := gm.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("can't build the MIME message: %w", err)
	}

	return buf.Bytes(), id, nil
}

// messageIDDomain picks the right-hand side of a Message-ID, preferring the
// domain of the sender.
func messageIDDomain(from, localHostname string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	if localHostname != "" {
		return localHostname
	}
	return "localhost"
}
