package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"

	"github.com/ptgott/one-mailer/email"
	"github.com/ptgott/one-mailer/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// options are the command-line flags after parsing.
type options struct {
	configPath string
	envPrefix  string
	to         string
	subject    string
	body       string
	bodyFile   string
	html       bool
	level      string
	debug      bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fl := flag.NewFlagSet("one-mailer", flag.ContinueOnError)
	fl.SetOutput(stderr)

	fl.StringVar(
		&o.configPath,
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration. Mail settings in the environment take precedence",
	)
	fl.StringVar(
		&o.envPrefix,
		"env-prefix",
		userconfig.DefaultEnvPrefix,
		"prefix for mail settings in the environment, e.g., ALERTA_ for ALERTA_SMTP_HOST",
	)
	fl.StringVar(&o.to, "to", "", "recipient address")
	fl.StringVar(&o.subject, "subject", "", "message subject")
	fl.StringVar(&o.body, "body", "", "message body")
	fl.StringVar(&o.bodyFile, "body-file", "", `read the message body from this file ("-" for stdin)`)
	fl.BoolVar(&o.html, "html", false, "send the body as text/html instead of text/plain")
	fl.StringVar(
		&o.level,
		"level",
		"",
		`log level: "info", "debug", "warn", or "error". Overrides the config file`,
	)
	fl.BoolVar(&o.debug, "debug", false, "trace the SMTP conversation at debug level")

	if err := fl.Parse(args); err != nil {
		return options{}, err
	}

	if o.to == "" {
		return options{}, errors.New("-to is required")
	}
	if o.body != "" && o.bodyFile != "" {
		return options{}, errors.New("use either -body or -body-file, not both")
	}

	return o, nil
}

// run sends a single message as described by args. Delivery failures are
// logged, not returned. An error means we never got as far as trying.
func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	config, err := userconfig.ParseFile(o.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		// Everything can come from the environment.
		log.Debug().Str("configPath", o.configPath).Msg("no config file, using the environment only")
		config, err = userconfig.Parse(strings.NewReader(""))
	}
	if err != nil {
		return fmt.Errorf("problem parsing your config: %w", err)
	}

	if o.level != "" {
		config.Logging.Level = o.level
	}
	lvl, err := config.Logging.ZerologLevel()
	if err != nil {
		return err
	}
	debug := o.debug || config.Logging.Debug
	if debug && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	logger := log.Logger.Level(lvl)

	uc, err := config.MailConfig(userconfig.Env{Prefix: o.envPrefix})
	if err != nil {
		return fmt.Errorf("problem validating your mail settings: %w", err)
	}

	logger.Info().
		Str("server", uc.Address()).
		Bool("ssl", uc.UseSSL).
		Bool("starttls", uc.StartTLS).
		Msg("successfully validated the config")

	m, err := email.New(uc, email.WithLogger(logger), email.WithDebug(debug))
	if err != nil {
		return err
	}

	body := o.body
	if o.bodyFile != "" {
		var r io.Reader = stdin
		if o.bodyFile != "-" {
			f, err := os.Open(o.bodyFile)
			if err != nil {
				return fmt.Errorf("can't open the message body: %w", err)
			}
			defer f.Close()
			r = f
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("can't read the message body: %w", err)
		}
		body = string(b)
	}

	ct := email.Plain
	if o.html {
		ct = email.HTML
	}

	m.Send(ctx, o.to, o.subject, body, ct)
	return nil
}

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// An interrupt abandons a delivery that's still dialing.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Error().
			Err(err).
			Msg("can't send the message")
		os.Exit(1)
	}
}
