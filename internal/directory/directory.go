package directory

import (
	"context"
	"log/slog"
	"sort"

	"github.com/sahilm/fuzzy"

	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/pkg/logger"
)

// Config locates the AddressBook Move type.
type Config struct {
	PackageID string
	Module    string
}

// StructType returns the fully qualified AddressBook type.
func (c Config) StructType() string {
	module := c.Module
	if module == "" {
		module = "address_book"
	}
	return c.PackageID + "::" + module + "::AddressBook"
}

// Handle points at a user's AddressBook object.
type Handle struct {
	ObjectID string
	Owner    string
}

// Entry is one decoded contact.
type Entry struct {
	Key         string
	Name        string
	Address     string
	Notes       string
	CreatedAt   uint64
	UpdatedAt   uint64
	NeedsResave bool
}

// Status classifies the outcome of a key lookup.
type Status string

const (
	StatusResolved    Status = "resolved"
	StatusNeedsResave Status = "needs_resave"
	StatusNotFound    Status = "not_found"
	StatusNoDirectory Status = "no_directory"
)

// Resolution is the tagged result of Resolve.
type Resolution struct {
	Status      Status
	Address     string
	MatchedKey  string
	Suggestions []string
}

// Reader reads AddressBook objects through a ledger reader.
type Reader struct {
	ledger     web3.Reader
	structType string
	decoders   []Decoder
	log        *slog.Logger
}

// Option customises a Reader.
type Option func(*Reader)

// WithDecoders replaces the decoding strategies.
func WithDecoders(decoders ...Decoder) Option {
	return func(r *Reader) {
		if len(decoders) > 0 {
			r.decoders = decoders
		}
	}
}

// New creates a Reader.
func New(ledger web3.Reader, cfg Config, opts ...Option) *Reader {
	r := &Reader{
		ledger:     ledger,
		structType: cfg.StructType(),
		decoders:   DefaultDecoders(),
		log:        logger.Named("directory"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Find returns the account's AddressBook, or nil when it has none. When the
// account owns several, the first is used and a warning is logged.
func (r *Reader) Find(ctx context.Context, account string) (*Handle, error) {
	refs, err := r.ledger.OwnedObjectsByType(ctx, account, r.structType)
	if err != nil {
		return nil, ledgerError(err, "查询通讯录对象失败")
	}
	if len(refs) == 0 {
		return nil, nil
	}
	if len(refs) > 1 {
		r.log.Warn("account owns more than one address book, using the first",
			slog.String("account", account), slog.Int("count", len(refs)),
			slog.String("object_id", refs[0].ObjectID))
	}
	return &Handle{ObjectID: refs[0].ObjectID, Owner: account}, nil
}

// ReadEntries decodes every contact of the AddressBook keyed by stored key.
// Entries no decoder recognises are kept with NeedsResave set.
func (r *Reader) ReadEntries(ctx context.Context, h *Handle) (map[string]Entry, error) {
	if h == nil {
		return nil, xerrors.New(xerrors.CodeDirectoryNotFound, "")
	}
	content, err := r.ledger.ObjectContents(ctx, h.ObjectID)
	if err != nil {
		return nil, ledgerError(err, "读取通讯录内容失败")
	}
	if content.DataType != "" && content.DataType != "moveObject" {
		return nil, xerrors.New(xerrors.CodeLedgerUnavailable, "通讯录对象类型异常: "+content.DataType)
	}

	var fields addressBookFields
	if err := content.Decode(&fields); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, "解析通讯录字段失败",
			xerrors.WithMetadata("object_id", h.ObjectID))
	}

	entries := make(map[string]Entry, len(fields.Contacts.Fields.Contents))
	for _, item := range fields.Contacts.Fields.Contents {
		value := item.Fields.Value.Fields
		entry := Entry{
			Key:       item.Fields.Key,
			CreatedAt: uint64(value.CreatedAt),
			UpdatedAt: uint64(value.UpdatedAt),
		}
		if payload, ok := decodeWith(r.decoders, value.EncryptedData); ok {
			entry.Name, entry.Address, entry.Notes = payload.Name, payload.Address, payload.Notes
		} else {
			entry.NeedsResave = true
		}
		entries[entry.Key] = entry
	}
	return entries, nil
}

// Resolve maps a contact key to an address for account.
func (r *Reader) Resolve(ctx context.Context, account, key string) (Resolution, error) {
	h, err := r.Find(ctx, account)
	if err != nil {
		return Resolution{}, err
	}
	if h == nil {
		return Resolution{Status: StatusNoDirectory}, nil
	}
	entries, err := r.ReadEntries(ctx, h)
	if err != nil {
		return Resolution{}, err
	}

	entry, ok := Lookup(entries, key)
	if !ok {
		r.log.Info("contact not found", slog.String("key", key), slog.Int("available", len(entries)))
		return Resolution{Status: StatusNotFound, Suggestions: Suggest(entries, key, 3)}, nil
	}
	if entry.NeedsResave {
		return Resolution{Status: StatusNeedsResave, MatchedKey: entry.Key}, nil
	}
	return Resolution{Status: StatusResolved, Address: entry.Address, MatchedKey: entry.Key}, nil
}

// Lookup finds key in entries, ignoring case and treating spaces as
// underscores. Among stored keys that fold to the same key, the lexically
// smallest wins.
func Lookup(entries map[string]Entry, key string) (Entry, bool) {
	want := intent.NormalizeKey(key)
	if entry, ok := entries[want]; ok {
		return entry, true
	}
	// Sorted so keys that fold together ("MOM", "Mom") always pick the same entry.
	for _, stored := range SortedKeys(entries) {
		if intent.NormalizeKey(stored) == want {
			return entries[stored], true
		}
	}
	return Entry{}, false
}

// SortedKeys returns the stored keys in lexical order.
func SortedKeys(entries map[string]Entry) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Suggest returns up to limit stored keys that fuzzily match key.
func Suggest(entries map[string]Entry, key string, limit int) []string {
	keys := SortedKeys(entries)
	matches := fuzzy.Find(intent.NormalizeKey(key), keys)
	out := make([]string, 0, limit)
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, keys[matches[i].Index])
	}
	return out
}

func ledgerError(err error, msg string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeLedgerUnavailable, err, msg)
}
