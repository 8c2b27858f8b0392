// Package mailer delivers sign-in codes. SMTP sends a plain-text message
// through gomail; Log writes the code to a zap logger for development.
package mailer
