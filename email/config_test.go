package email

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settings is a Source backed by a map.
type settings map[string]string

func (s settings) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// validSettings returns a complete set of settings the caller can break.
func validSettings() settings {
	return settings{
		KeyHost:          "smtp.example.com",
		KeyPort:          "587",
		KeyLocalHostname: "client.example.com",
		KeyKeyFile:       "",
		KeyCertFile:      "",
		KeyFromAddress:   "alerts@example.com",
		KeyPassword:      "hunter2",
		KeyUseSSL:        "false",
		KeyStartTLS:      "true",
		KeySkipSSLVerify: "False",
	}
}

func TestNewUserConfig(t *testing.T) {
	testCases := []struct {
		description   string
		change        func(s settings)
		shouldBeError bool
		missing       bool
	}{
		{
			description: "valid case",
			change:      func(s settings) {},
		},
		{
			description: "optional username and timeout",
			change: func(s settings) {
				s[KeyUsername] = "someone"
				s[KeyTimeout] = "30s"
			},
		},
		{
			description: "empty optional settings",
			change: func(s settings) {
				s[KeyUsername] = ""
				s[KeyTimeout] = ""
			},
		},
		{
			description:   "no host",
			change:        func(s settings) { delete(s, KeyHost) },
			shouldBeError: true,
			missing:       true,
		},
		{
			description:   "no password",
			change:        func(s settings) { delete(s, KeyPassword) },
			shouldBeError: true,
			missing:       true,
		},
		{
			description:   "no key file",
			change:        func(s settings) { delete(s, KeyKeyFile) },
			shouldBeError: true,
			missing:       true,
		},
		{
			description:   "no skip verify flag",
			change:        func(s settings) { delete(s, KeySkipSSLVerify) },
			shouldBeError: true,
			missing:       true,
		},
		{
			description:   "port isn't a number",
			change:        func(s settings) { s[KeyPort] = "smtp" },
			shouldBeError: true,
		},
		{
			description:   "flag isn't a boolean",
			change:        func(s settings) { s[KeyUseSSL] = "maybe" },
			shouldBeError: true,
		},
		{
			description: "timeout in bare seconds",
			change:      func(s settings) { s[KeyTimeout] = "45" },
		},
		{
			description:   "timeout isn't a duration",
			change:        func(s settings) { s[KeyTimeout] = "soon" },
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			s := validSettings()
			tc.change(s)
			_, err := NewUserConfig(s)
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if errors.Is(err, ErrMissingSetting) != tc.missing {
				t.Errorf("%v: expected ErrMissingSetting to be %v, got error %v", tc.description, tc.missing, err)
			}
		})
	}
}

func TestNewUserConfigValues(t *testing.T) {
	s := validSettings()
	s[KeyPort] = " 2525 "
	s[KeyUseSSL] = "yes"
	s[KeyStartTLS] = "0"
	s[KeySkipSSLVerify] = "on"
	s[KeyTimeout] = "1m"

	uc, err := NewUserConfig(s)
	require.NoError(t, err)

	assert.Equal(t, UserConfig{
		Host:          "smtp.example.com",
		Port:          2525,
		LocalHostname: "client.example.com",
		FromAddress:   "alerts@example.com",
		Password:      "hunter2",
		UseSSL:        true,
		StartTLS:      false,
		SkipSSLVerify: true,
		Timeout:       time.Minute,
	}, uc)
}

func TestCheckAndSetDefaults(t *testing.T) {
	base := UserConfig{
		Host:        "smtp.example.com",
		Port:        25,
		FromAddress: "alerts@example.com",
	}

	testCases := []struct {
		description   string
		change        func(uc *UserConfig)
		shouldBeError bool
		expectedUser  string
	}{
		{
			description:  "username falls back to the from address",
			change:       func(uc *UserConfig) {},
			expectedUser: "alerts@example.com",
		},
		{
			description:  "explicit username",
			change:       func(uc *UserConfig) { uc.Username = "relay-user" },
			expectedUser: "relay-user",
		},
		{
			description:   "no host",
			change:        func(uc *UserConfig) { uc.Host = "" },
			shouldBeError: true,
		},
		{
			description:   "no from address",
			change:        func(uc *UserConfig) { uc.FromAddress = "" },
			shouldBeError: true,
		},
		{
			description:   "port out of range",
			change:        func(uc *UserConfig) { uc.Port = 70000 },
			shouldBeError: true,
		},
		{
			description:   "zero port",
			change:        func(uc *UserConfig) { uc.Port = 0 },
			shouldBeError: true,
		},
		{
			description: "implicit TLS and STARTTLS",
			change: func(uc *UserConfig) {
				uc.UseSSL = true
				uc.StartTLS = true
			},
			shouldBeError: true,
		},
		{
			description:   "negative timeout",
			change:        func(uc *UserConfig) { uc.Timeout = -time.Second },
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			uc := base
			tc.change(&uc)
			before := uc
			c, err := uc.CheckAndSetDefaults()
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if err != nil {
				assert.Equal(t, UserConfig{}, c)
				return
			}
			assert.Equal(t, tc.expectedUser, c.Username)
			// The receiver stays untouched.
			assert.Equal(t, before, uc)
		})
	}
}

func TestAddress(t *testing.T) {
	uc := UserConfig{Host: "::1", Port: 465}
	assert.Equal(t, "[::1]:465", uc.Address())
}
