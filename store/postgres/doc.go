// Package postgres persists accounts on PostgreSQL via pgx. It is the
// production [authcore.CredentialStore]; the schema lives in schema.sql and
// is applied by [Store.Migrate].
package postgres
