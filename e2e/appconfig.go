package e2e

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it. Also using
// YAML/JSON-compatible types only here.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	Host          string
	Port          string
	SSLKey        string
	SSLCert       string
	Password      string
	UseSSL        bool
	StartTLS      bool
	SkipSSLVerify bool
	Debug         bool
}

const configTemplate = `---
email:
    SMTP_HOST: {{ .Host }}
    SMTP_PORT: {{ .Port }}
    MAIL_LOCALHOST: alerta.example.com
    SSL_KEY_FILE: {{ .SSLKey }}
    SSL_CERT_FILE: {{ .SSLCert }}
    MAIL_FROM: alerta@example.com
    SMTP_USERNAME: alerta
    SMTP_PASSWORD: {{ .Password }}
    SMTP_USE_SSL: {{ .UseSSL }}
    SMTP_STARTTLS: {{ .StartTLS }}
    SMTP_SKIP_SSL_VERIFY: {{ .SkipSSLVerify }}
logging:
    level: info
    debug: {{ .Debug }}
`

// createAppConfig writes a configuration YAML doc to config.yaml within dir
// and returns its path.
func createAppConfig(dir string, opts appConfigOptions) (string, error) {
	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return "", fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return "", fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, config.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("couldn't write the config file: %v", err)
	}

	return path, nil
}
