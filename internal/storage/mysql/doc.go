// Package mysql provides the MySQL backend for storage-tier handlers. It owns
// schema migrations and strongly typed queries for messages, notes, ledger
// entries, review tickets and sealed credentials.
package mysql
