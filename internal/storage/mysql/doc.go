// Package mysql provides the durable proof archive backed by MySQL. It
// persists issued proof handles and verification outcomes, runs embedded
// schema migrations, and offers a file-backed archive for development.
package mysql
