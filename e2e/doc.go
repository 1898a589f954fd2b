package e2e

// e2e contains integration tests that run the whole path a host application
// takes: render a YAML config file, parse it with userconfig, build an
// email.Mailer from the result and deliver to an in-process SMTP server.
// Nothing here is imported by the application itself.
