// Package mail is the SMTP implementation of [authcore.Mailer]. One message
// template per [authcore.MailKind], plain text only.
package mail
