package email

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Names of the settings a Source must provide. SMTP_USERNAME and
// SMTP_TIMEOUT are optional.
const (
	KeyHost          = "SMTP_HOST"
	KeyPort          = "SMTP_PORT"
	KeyLocalHostname = "MAIL_LOCALHOST"
	KeyKeyFile       = "SSL_KEY_FILE"
	KeyCertFile      = "SSL_CERT_FILE"
	KeyFromAddress   = "MAIL_FROM"
	KeyUsername      = "SMTP_USERNAME"
	KeyPassword      = "SMTP_PASSWORD"
	KeyUseSSL        = "SMTP_USE_SSL"
	KeyStartTLS      = "SMTP_STARTTLS"
	KeySkipSSLVerify = "SMTP_SKIP_SSL_VERIFY"
	KeyTimeout       = "SMTP_TIMEOUT"
)

// ErrMissingSetting is wrapped by every error caused by a required setting
// that the Source doesn't contain.
var ErrMissingSetting = errors.New("missing required mail setting")

// Source is anything that can look up a named setting, e.g., a parsed config
// file or the process environment. The boolean reports whether the setting
// exists at all, which is different from it being empty.
type Source interface {
	Lookup(key string) (string, bool)
}

// UserConfig represents the SMTP options provided by the user. Not meant to
// be used for sending email without validation. New takes care of that.
type UserConfig struct {
	Host          string
	Port          int
	LocalHostname string // announced in EHLO
	// PEM-encoded key and certificate for mutual TLS. We only use them if
	// both are present.
	KeyFile  string
	CertFile string

	FromAddress string
	Username    string
	Password    string

	UseSSL        bool // implicit TLS from the first byte
	StartTLS      bool
	SkipSSLVerify bool

	// Zero means we stick with the transport's defaults.
	Timeout time.Duration
}

// NewUserConfig reads every mail setting from src. It returns an error if a
// required setting is absent or can't be parsed, but doesn't otherwise
// validate the result.
func NewUserConfig(src Source) (UserConfig, error) {
	var uc UserConfig
	var err error

	str := func(key string) string {
		if err != nil {
			return ""
		}
		v, ok := src.Lookup(key)
		if !ok {
			err = fmt.Errorf("%w: %v", ErrMissingSetting, key)
		}
		return strings.TrimSpace(v)
	}

	boolean := func(key string) bool {
		v := str(key)
		if err != nil {
			return false
		}
		b, perr := parseBool(v)
		if perr != nil {
			err = fmt.Errorf("can't parse %v as a boolean: %v", key, perr)
		}
		return b
	}

	uc.Host = str(KeyHost)
	p := str(KeyPort)
	if err == nil {
		uc.Port, err = strconv.Atoi(p)
		if err != nil {
			return UserConfig{}, fmt.Errorf("can't parse %v as an integer: %v", KeyPort, err)
		}
	}
	uc.LocalHostname = str(KeyLocalHostname)
	uc.KeyFile = str(KeyKeyFile)
	uc.CertFile = str(KeyCertFile)
	uc.FromAddress = str(KeyFromAddress)
	uc.Password = str(KeyPassword)
	uc.UseSSL = boolean(KeyUseSSL)
	uc.StartTLS = boolean(KeyStartTLS)
	uc.SkipSSLVerify = boolean(KeySkipSSLVerify)

	if err != nil {
		return UserConfig{}, err
	}

	if u, ok := src.Lookup(KeyUsername); ok {
		uc.Username = strings.TrimSpace(u)
	}

	if t, ok := src.Lookup(KeyTimeout); ok && strings.TrimSpace(t) != "" {
		t = strings.TrimSpace(t)
		// A bare number is seconds.
		if _, err := strconv.Atoi(t); err == nil {
			t += "s"
		}
		d, err := time.ParseDuration(t)
		if err != nil {
			return UserConfig{}, fmt.Errorf("can't parse %v as a duration: %v", KeyTimeout, err)
		}
		uc.Timeout = d
	}

	return uc, nil
}

// parseBool accepts whatever strconv.ParseBool does, plus the yes/no and
// on/off spellings people tend to put into environment variables. An empty
// value is false.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "":
		return false, nil
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// CheckAndSetDefaults validates uc and either returns a copy of uc with
// default settings applied or returns an error due to an invalid
// configuration.
func (uc *UserConfig) CheckAndSetDefaults() (UserConfig, error) {
	c := *uc

	if c.Host == "" {
		return UserConfig{}, fmt.Errorf("%w: %v", ErrMissingSetting, KeyHost)
	}

	if c.Port < 1 || c.Port > 65535 {
		return UserConfig{}, fmt.Errorf("%v must be between 1 and 65535, but got %v", KeyPort, c.Port)
	}

	if c.FromAddress == "" {
		return UserConfig{}, fmt.Errorf("%w: %v", ErrMissingSetting, KeyFromAddress)
	}

	// Implicit TLS leaves nothing for STARTTLS to upgrade.
	if c.UseSSL && c.StartTLS {
		return UserConfig{}, fmt.Errorf("%v and %v can't both be enabled", KeyUseSSL, KeyStartTLS)
	}

	if c.Timeout < 0 {
		return UserConfig{}, fmt.Errorf("%v can't be negative", KeyTimeout)
	}

	if c.Username == "" {
		c.Username = c.FromAddress
	}

	return c, nil
}

// Address returns the host:port of the SMTP server.
func (uc *UserConfig) Address() string {
	return net.JoinHostPort(uc.Host, strconv.Itoa(uc.Port))
}

// mutualTLS reports whether we should present a client certificate.
func (uc *UserConfig) mutualTLS() bool {
	return uc.KeyFile != "" && uc.CertFile != ""
}
