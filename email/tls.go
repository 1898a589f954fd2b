package email

import (
	"crypto/tls"
	"fmt"
)

// tlsConfig returns the TLS settings used for both implicit TLS and
// STARTTLS. A nil RootCAs means the system roots.
//
// Normally taking file paths as user input isn't great for testing, but
// we're accommodating the tls package, which uses these.
// https://golang.org/pkg/crypto/tls/#LoadX509KeyPair
func (uc *UserConfig) tlsConfig() (*tls.Config, error) {
	c := &tls.Config{
		ServerName: uc.Host,
		MinVersion: tls.VersionTLS12,
	}

	if uc.SkipSSLVerify {
		// The user opted into this. Hostname checks go away too.
		c.InsecureSkipVerify = true
	}

	if uc.mutualTLS() {
		cert, err := tls.LoadX509KeyPair(uc.CertFile, uc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("can't load the client certificate %v: %w", uc.CertFile, err)
		}
		c.Certificates = []tls.Certificate{cert}
	}

	return c, nil
}
