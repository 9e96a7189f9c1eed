// Package txbuilder turns resolved parameters into unsigned transaction
// descriptors. Builders are pure: identical inputs give identical output.
package txbuilder

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "OpenMCP-Sui/internal/errors"
)

// TransactionType distinguishes Move calls from native coin transfers.
type TransactionType string

const (
	TypeMoveCall TransactionType = "move_call"
	TypeTransfer TransactionType = "transfer"
)

// ArgumentKind tags each positional argument.
type ArgumentKind string

const (
	KindObject  ArgumentKind = "object"
	KindString  ArgumentKind = "string"
	KindBytes   ArgumentKind = "vector_u8"
	KindU64     ArgumentKind = "u64"
	KindAddress ArgumentKind = "address"
)

// Argument is one typed call argument. Bytes are hex encoded with 0x.
type Argument struct {
	Kind  ArgumentKind `json:"type"`
	Value string       `json:"value"`
}

// Descriptor action names.
const (
	ActionCreateAddressBook = "create_address_book"
	ActionAddContact        = "add_contact"
	ActionUpdateContact     = "update_contact"
	ActionStake             = "stake_token"
	ActionUnstake           = "unstake_token"
	ActionTransfer          = "transfer_token"
)

// Descriptor is an unsigned transaction ready for a wallet or the dispatcher.
type Descriptor struct {
	Action          string            `json:"action"`
	TransactionType TransactionType   `json:"transaction_type"`
	Target          string            `json:"target,omitempty"`
	Arguments       []Argument        `json:"arguments"`
	TypeArguments   []string          `json:"type_arguments"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Message         string            `json:"message"`
}

// Package splits a Target into package, module and function.
func (d Descriptor) Package() (pkg, module, function string, ok bool) {
	parts := strings.Split(d.Target, "::")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Meta returns a metadata value or "".
func (d Descriptor) Meta(key string) string {
	return d.Metadata[key]
}

// Metadata keys carried by descriptors.
const (
	MetaSender     = "sender"
	MetaAmount     = "amount"
	MetaRecipient  = "recipient"
	MetaToken      = "token"
	MetaCoinType   = "coin_type"
	MetaPoolID     = "stake_pool_id"
	MetaContactKey = "contact_key"
	MetaDirectory  = "address_book_id"
)

// Module locates a deployed Move module.
type Module struct {
	PackageID string
	Name      string
}

func (m Module) target(function string) string {
	return m.PackageID + "::" + m.Name + "::" + function
}

// ContactRecord is the plaintext stored for one contact.
type ContactRecord struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

// ContactWrite carries everything add_contact and update_contact need.
type ContactWrite struct {
	Sender      string
	DirectoryID string
	Key         string
	Record      ContactRecord
	Nonce       []byte
	Timestamp   uint64
}

// CreateAddressBook builds the one-time AddressBook creation call.
func CreateAddressBook(m Module, sender string) Descriptor {
	return Descriptor{
		Action:          ActionCreateAddressBook,
		TransactionType: TypeMoveCall,
		Target:          m.target("create_address_book"),
		Arguments:       []Argument{},
		TypeArguments:   []string{},
		Metadata:        map[string]string{MetaSender: sender},
		Message:         "Transaction ready. Sign with your wallet to create address book.",
	}
}

// AddContact builds an add_contact call for a key absent from the book.
func AddContact(m Module, w ContactWrite) (Descriptor, error) {
	return contactCall(m, "add_contact", ActionAddContact, w)
}

// UpdateContact builds an update_contact call for an existing key.
func UpdateContact(m Module, w ContactWrite) (Descriptor, error) {
	return contactCall(m, "update_contact", ActionUpdateContact, w)
}

func contactCall(m Module, function, action string, w ContactWrite) (Descriptor, error) {
	if w.DirectoryID == "" || w.Key == "" {
		return Descriptor{}, xerrors.New(xerrors.CodeInvalidArgument, "通讯录 ID 与联系人键不能为空")
	}
	data, err := json.Marshal(w.Record)
	if err != nil {
		return Descriptor{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化联系人失败")
	}
	return Descriptor{
		Action:          action,
		TransactionType: TypeMoveCall,
		Target:          m.target(function),
		Arguments: []Argument{
			{Kind: KindObject, Value: w.DirectoryID},
			{Kind: KindString, Value: w.Key},
			{Kind: KindBytes, Value: hexutil.Encode(data)},
			{Kind: KindBytes, Value: hexutil.Encode(w.Nonce)},
			{Kind: KindU64, Value: strconv.FormatUint(w.Timestamp, 10)},
		},
		TypeArguments: []string{},
		Metadata: map[string]string{
			MetaSender:     w.Sender,
			MetaDirectory:  w.DirectoryID,
			MetaContactKey: w.Key,
		},
		Message: "Transaction ready. Sign with your wallet to save contact '" + w.Key + "'.",
	}, nil
}

// Stake builds a stake call against the shared pool.
func Stake(m Module, sender, poolID, amount string) (Descriptor, error) {
	return poolCall(m, "stake", ActionStake, sender, poolID, amount)
}

// Unstake builds an unstake call against the shared pool.
func Unstake(m Module, sender, poolID, amount string) (Descriptor, error) {
	return poolCall(m, "unstake", ActionUnstake, sender, poolID, amount)
}

func poolCall(m Module, function, action, sender, poolID, amount string) (Descriptor, error) {
	if poolID == "" {
		return Descriptor{}, xerrors.New(xerrors.CodeInvalidArgument, "未配置质押池")
	}
	if err := checkU64(amount); err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Action:          action,
		TransactionType: TypeMoveCall,
		Target:          m.target(function),
		Arguments: []Argument{
			{Kind: KindObject, Value: poolID},
			{Kind: KindU64, Value: amount},
		},
		TypeArguments: []string{},
		Metadata: map[string]string{
			MetaSender: sender,
			MetaPoolID: poolID,
			MetaAmount: amount,
			MetaToken:  "SUI",
		},
		Message: "Transaction ready. Sign with your wallet to " + function + ".",
	}, nil
}

// TransferParams describes a coin transfer.
type TransferParams struct {
	Sender    string
	Recipient string
	Amount    string
	Token     string
	CoinType  string
}

// Transfer builds a split-and-transfer of Amount base units to Recipient.
func Transfer(p TransferParams) (Descriptor, error) {
	if !strings.HasPrefix(p.Recipient, "0x") {
		return Descriptor{}, xerrors.New(xerrors.CodeInvalidArgument, "recipient must be a 0x address",
			xerrors.WithMetadata("recipient", p.Recipient))
	}
	if err := checkU64(p.Amount); err != nil {
		return Descriptor{}, err
	}
	typeArgs := []string{}
	if p.CoinType != "" {
		typeArgs = []string{p.CoinType}
	}
	return Descriptor{
		Action:          ActionTransfer,
		TransactionType: TypeTransfer,
		Arguments: []Argument{
			{Kind: KindU64, Value: p.Amount},
			{Kind: KindAddress, Value: p.Recipient},
		},
		TypeArguments: typeArgs,
		Metadata: map[string]string{
			MetaSender:    p.Sender,
			MetaRecipient: p.Recipient,
			MetaAmount:    p.Amount,
			MetaToken:     p.Token,
			MetaCoinType:  p.CoinType,
		},
		Message: "Transaction ready. Sign with your wallet to transfer.",
	}, nil
}

func checkU64(amount string) error {
	if _, err := strconv.ParseUint(amount, 10, 64); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidAmount, err, "amount must be a u64 in base units",
			xerrors.WithMetadata("amount", amount))
	}
	return nil
}

// MoveArguments converts typed arguments to the JSON values unsafe_moveCall
// accepts. vector<u8> becomes an array of numbers.
func MoveArguments(args []Argument) ([]any, error) {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		switch arg.Kind {
		case KindBytes:
			raw, err := hexutil.Decode(arg.Value)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "vector<u8> 参数不是合法的十六进制")
			}
			nums := make([]int, len(raw))
			for i, b := range raw {
				nums[i] = int(b)
			}
			out = append(out, nums)
		default:
			out = append(out, arg.Value)
		}
	}
	return out, nil
}
