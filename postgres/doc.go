// Package postgres provides PostgreSQL-backed persistence for authgate:
// a credential [UserStore] and a refresh-token [RefreshStore], both speaking
// database/sql over the pgx stdlib driver.
//
// # Schema
//
// The schema lives in embedded goose migrations; run them with [Migrate]
// before first use.
//
// # Concurrency
//
// RefreshStore rotation runs in a transaction: the row is locked with
// FOR UPDATE and the replace transition is a conditional UPDATE guarded on
// the record still being active, so concurrent rotations of one token
// serialize in the database and exactly one wins.
package postgres
