// Package directory reads a user's on-chain AddressBook object and resolves
// contact keys to wallet addresses.
//
// Every call re-reads the ledger; nothing is cached between requests. Entry
// payloads are decoded by an ordered list of strategies so that contacts
// written by older clients are either understood or flagged for re-saving
// instead of failing the whole read.
package directory
