package userconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ptgott/one-mailer/email"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// Meta represents all config options the application reads from its config
// file. Mail settings can also come from the environment, see Source.
type Meta struct {
	EmailSettings Settings `yaml:"email"`
	Logging       Logging  `yaml:"logging"`
}

// Settings holds mail settings keyed by their canonical names, e.g.,
// SMTP_HOST. Implements email.Source.
type Settings map[string]string

// Lookup implements email.Source.
func (s Settings) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// UnmarshalYAML parses the "email" section of a config file. Keys are case
// insensitive, so smtp_host and SMTP_HOST are the same setting.
func (s *Settings) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the email settings: %v", err)
	}

	*s = make(Settings, len(v))
	for k, val := range v {
		(*s)[strings.ToUpper(strings.TrimSpace(k))] = val
	}

	return nil
}

// Logging contains config options that apply to the application's log
// output.
type Logging struct {
	// One of "debug", "info", "warn" or "error"
	Level string
	// Trace every SMTP conversation at debug level.
	Debug bool
}

// UnmarshalYAML parses a user-provided YAML logging configuration,
// returning any parsing errors.
func (l *Logging) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the logging config: %v", err)
	}

	l.Level = strings.ToLower(strings.TrimSpace(v["level"]))

	d, ok := v["debug"]
	if !ok {
		d = "false"
	}

	switch strings.ToLower(strings.TrimSpace(d)) {
	case "true", "yes", "on", "1":
		l.Debug = true
	case "false", "no", "off", "0", "":
		l.Debug = false
	default:
		return fmt.Errorf("can't parse the logging debug flag %q as a boolean", d)
	}

	return nil
}

// CheckAndSetDefaults validates l and either returns a copy of l with
// default settings applied or returns an error due to an invalid
// configuration
func (l *Logging) CheckAndSetDefaults() (Logging, error) {
	c := *l
	if c.Level == "" {
		c.Level = "info"
	}
	if _, err := c.ZerologLevel(); err != nil {
		return Logging{}, err
	}
	return c, nil
}

// ZerologLevel maps Level to a zerolog.Level.
func (l *Logging) ZerologLevel() (zerolog.Level, error) {
	switch l.Level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q: use \"debug\", \"info\", \"warn\", or \"error\"", l.Level)
}

// DefaultEnvPrefix is prepended to mail settings in the environment when Env
// has no Prefix of its own. Bare names like SSL_CERT_FILE already mean
// something to OpenSSL and Go, and hosts often set them system-wide.
const DefaultEnvPrefix = "ONE_MAILER_"

// Env is an email.Source backed by the process environment. Prefix is
// prepended to every key, e.g., ALERTA_ for ALERTA_SMTP_HOST. An empty
// Prefix means DefaultEnvPrefix, so unprefixed variables are never read.
type Env struct {
	Prefix string
}

// Lookup implements email.Source.
func (e Env) Lookup(key string) (string, bool) {
	p := e.Prefix
	if p == "" {
		p = DefaultEnvPrefix
	}
	return os.LookupEnv(p + key)
}

// Layered is an email.Source that returns the first match among its
// members.
type Layered []email.Source

// Lookup implements email.Source.
func (l Layered) Lookup(key string) (string, bool) {
	for _, s := range l {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Source returns the mail settings to use, with env taking precedence over
// the config file. env may be nil.
func (m *Meta) Source(env email.Source) email.Source {
	return Layered{env, m.EmailSettings}
}

// MailConfig reads and validates the mail settings. An error means the
// application can't send mail at all.
func (m *Meta) MailConfig(env email.Source) (email.UserConfig, error) {
	uc, err := email.NewUserConfig(m.Source(env))
	if err != nil {
		return email.UserConfig{}, err
	}
	return uc.CheckAndSetDefaults()
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML. An empty document is fine, since every mail
// setting can come from the environment.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil && !errors.Is(err, io.EOF) {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	l, err := m.Logging.CheckAndSetDefaults()
	if err != nil {
		return &Meta{}, err
	}
	m.Logging = l

	if len(m.EmailSettings) == 0 {
		log.Debug().Msg(
			"no \"email\" section in the config file, so mail settings must come from the environment",
		)
	}

	return &m, nil
}

// ParseFile opens path and parses it with Parse.
func ParseFile(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't open the config file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
