// Package postgres provides a PostgreSQL storage backend for the OAuth engine
// built on pgx connection pools.
//
// Call Migrate once to create the tables, then run RunCleanup in the
// background to purge expired codes, access tokens and idle sessions.
// Authorization and device codes are consumed with DELETE statements, so
// exactly one of several concurrent consumers sees the row go away.
package postgres
