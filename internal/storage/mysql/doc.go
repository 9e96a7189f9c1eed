// Package mysql persists conversation history. A JSON-lines file backed
// repository serves single-node deployments; the MySQL repository applies the
// embedded schema migrations on start.
package mysql
