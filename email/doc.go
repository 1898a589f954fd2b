package email

// email is responsible for delivering a single message to an SMTP relay,
// including dialing the server in plaintext or over implicit TLS, upgrading
// with STARTTLS, presenting a client certificate, authenticating, and building
// a single-part MIME message. Send never hands delivery failures back to the
// caller. It logs them instead, so callers can fire and forget. Use Deliver if
// you need the error.
