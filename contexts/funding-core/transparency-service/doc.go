// Package transparencyservice serves the public funding feed. Entries are
// projected from settlement releases and read without authentication.
package transparencyservice
