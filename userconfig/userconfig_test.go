package userconfig

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ptgott/one-mailer/email"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `---
email:
    SMTP_HOST: smtp.example.com
    SMTP_PORT: 465
    MAIL_LOCALHOST: alerta.example.com
    SSL_KEY_FILE:
    SSL_CERT_FILE:
    MAIL_FROM: alerts@example.com
    SMTP_PASSWORD: 123456-A_BCDE
    SMTP_USE_SSL: true
    SMTP_STARTTLS: false
    SMTP_SKIP_SSL_VERIFY: false
logging:
    level: warn
    debug: true
`

func TestParse(t *testing.T) {
	// Asserting deep equality between the expected and actual Meta would
	// be really convoluted and brittle, so we should make sure nothing
	// fails unexpectedly and test knottier marshaling/validation situations
	// elswhere.
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
		shouldBeEmpty bool
	}{
		{
			description:   "valid case",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf:          validConfig,
		},
		{
			description:   "lower case keys",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf: `email:
    smtp_host: smtp.example.com
    smtp_port: 25
`,
		},
		{
			description:   "empty document",
			shouldBeError: false,
			shouldBeEmpty: false, // the logging defaults are applied
			conf:          ``,
		},
		{
			description:   "not yaml",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf:          `this is not yaml`,
		},
		{
			description:   "email isn't a map",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `email:
    - SMTP_HOST
`,
		},
		{
			description:   "unknown log level",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `logging:
    level: chatty
`,
		},
		{
			description:   "debug isn't a boolean",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `logging:
    debug: sometimes
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b := bytes.NewBuffer([]byte(tc.conf))
			m, err := Parse(b)

			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}

			if reflect.DeepEqual(*m, Meta{}) != tc.shouldBeEmpty {
				l := map[bool]string{
					true:  "to be",
					false: "not to be",
				}
				t.Errorf(
					"%v: expected the Meta %v empty, but got the opposite",
					tc.description,
					l[tc.shouldBeEmpty],
				)
			}
		})

	}

}

func TestParseValues(t *testing.T) {
	m, err := Parse(bytes.NewBufferString(validConfig))
	require.NoError(t, err)

	assert.Equal(t, Logging{Level: "warn", Debug: true}, m.Logging)
	lvl, err := m.Logging.ZerologLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	v, ok := m.EmailSettings.Lookup(email.KeyKeyFile)
	assert.True(t, ok, "empty settings are still present")
	assert.Empty(t, v)

	uc, err := m.MailConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, email.UserConfig{
		Host:          "smtp.example.com",
		Port:          465,
		LocalHostname: "alerta.example.com",
		FromAddress:   "alerts@example.com",
		Username:      "alerts@example.com",
		Password:      "123456-A_BCDE",
		UseSSL:        true,
	}, uc)
}

func TestMailConfigMissingSetting(t *testing.T) {
	m, err := Parse(bytes.NewBufferString(`email:
    SMTP_HOST: smtp.example.com
    SMTP_PORT: 25
`))
	require.NoError(t, err)

	_, err = m.MailConfig(nil)
	if !errors.Is(err, email.ErrMissingSetting) {
		t.Errorf("expected a missing setting error, but got %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	m, err := Parse(bytes.NewBufferString(validConfig))
	require.NoError(t, err)

	t.Setenv("TESTMAILER_SMTP_HOST", "relay.internal")
	t.Setenv("TESTMAILER_SMTP_USERNAME", "relay-user")
	t.Setenv("TESTMAILER_SMTP_USE_SSL", "false")
	t.Setenv("TESTMAILER_SMTP_STARTTLS", "true")

	uc, err := m.MailConfig(Env{Prefix: "TESTMAILER_"})
	require.NoError(t, err)

	assert.Equal(t, "relay.internal", uc.Host)
	assert.Equal(t, "relay-user", uc.Username)
	assert.False(t, uc.UseSSL)
	assert.True(t, uc.StartTLS)
	// Untouched settings still come from the file.
	assert.Equal(t, 465, uc.Port)
	assert.Equal(t, "alerts@example.com", uc.FromAddress)
}

// SSL_CERT_FILE and friends are trust store settings for OpenSSL and Go, so
// the bare names must never shadow the config file.
func TestUnprefixedEnvIsIgnored(t *testing.T) {
	m, err := Parse(bytes.NewBufferString(`email:
    SMTP_HOST: smtp.example.com
    SMTP_PORT: 465
    MAIL_LOCALHOST: alerta.example.com
    SSL_KEY_FILE: /srv/client.key
    SSL_CERT_FILE: /srv/client.crt
    MAIL_FROM: alerts@example.com
    SMTP_PASSWORD:
    SMTP_USE_SSL: true
    SMTP_STARTTLS: false
    SMTP_SKIP_SSL_VERIFY: false
`))
	require.NoError(t, err)

	t.Setenv("SSL_CERT_FILE", "/etc/ssl/certs/ca-certificates.crt")
	t.Setenv("SMTP_HOST", "wrong.example.com")

	uc, err := m.MailConfig(Env{})
	require.NoError(t, err)
	assert.Equal(t, "/srv/client.crt", uc.CertFile)
	assert.Equal(t, "/srv/client.key", uc.KeyFile)
	assert.Equal(t, "smtp.example.com", uc.Host)

	// The default prefix still overrides the file.
	t.Setenv(DefaultEnvPrefix+email.KeyCertFile, "/srv/other.crt")
	uc, err = m.MailConfig(Env{})
	require.NoError(t, err)
	assert.Equal(t, "/srv/other.crt", uc.CertFile)
}

func TestEnvOnly(t *testing.T) {
	env := map[string]string{
		email.KeyHost:          "localhost",
		email.KeyPort:          "1025",
		email.KeyLocalHostname: "localhost",
		email.KeyKeyFile:       "",
		email.KeyCertFile:      "",
		email.KeyFromAddress:   "alerta@localhost",
		email.KeyPassword:      "",
		email.KeyUseSSL:        "false",
		email.KeyStartTLS:      "false",
		email.KeySkipSSLVerify: "false",
	}
	for k, v := range env {
		t.Setenv("ENVONLY_"+k, v)
	}

	m, err := Parse(bytes.NewBufferString(""))
	require.NoError(t, err)

	uc, err := m.MailConfig(Env{Prefix: "ENVONLY_"})
	require.NoError(t, err)
	assert.Equal(t, "localhost", uc.Host)
	assert.Equal(t, 1025, uc.Port)
	assert.Equal(t, "alerta@localhost", uc.Username)
}

func TestLayered(t *testing.T) {
	l := Layered{
		nil,
		Settings{"A": "first"},
		Settings{"A": "second", "B": "second"},
	}

	v, ok := l.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok = l.Lookup("B")
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = l.Lookup("C")
	assert.False(t, ok)
}

func TestParseFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(validConfig), 0o600))

	m, err := ParseFile(p)
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", m.EmailSettings[email.KeyHost])

	_, err = ParseFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
