// Package agent contains the intent resolver: it turns a classified intent
// and the caller's account into either an informational reply or an unsigned
// transaction descriptor ready for signing. It reads the ledger on every
// request and never writes to it.
package agent
