package txbuilder

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-Sui/internal/errors"
)

var (
	book  = Module{PackageID: "0xabc", Name: "address_book"}
	stake = Module{PackageID: "0xdef", Name: "staking"}
)

const (
	sender = "0x6d2214052b18cc9ff2f97cb904343a47ab9d85453e45e9477197e75eab365eac"
	bob    = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

func TestCreateAddressBook(t *testing.T) {
	d := CreateAddressBook(book, sender)
	assert.Equal(t, "0xabc::address_book::create_address_book", d.Target)
	assert.Equal(t, TypeMoveCall, d.TransactionType)
	assert.Empty(t, d.Arguments)
	assert.Equal(t, sender, d.Meta(MetaSender))

	pkg, mod, fn, ok := d.Package()
	require.True(t, ok)
	assert.Equal(t, []string{"0xabc", "address_book", "create_address_book"}, []string{pkg, mod, fn})
}

func TestContactCallsShareArgumentLayout(t *testing.T) {
	w := ContactWrite{
		Sender:      sender,
		DirectoryID: "0xb00c",
		Key:         "bob",
		Record:      ContactRecord{Name: "Bob", Address: bob},
		Nonce:       []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Timestamp:   1700000000,
	}
	add, err := AddContact(book, w)
	require.NoError(t, err)
	update, err := UpdateContact(book, w)
	require.NoError(t, err)

	assert.Equal(t, "0xabc::address_book::add_contact", add.Target)
	assert.Equal(t, "0xabc::address_book::update_contact", update.Target)
	assert.Equal(t, add.Arguments, update.Arguments)

	kinds := make([]ArgumentKind, 0, len(add.Arguments))
	for _, arg := range add.Arguments {
		kinds = append(kinds, arg.Kind)
	}
	assert.Equal(t, []ArgumentKind{KindObject, KindString, KindBytes, KindBytes, KindU64}, kinds)
	assert.Equal(t, "0xb00c", add.Arguments[0].Value)
	assert.Equal(t, "bob", add.Arguments[1].Value)
	assert.Equal(t, "1700000000", add.Arguments[4].Value)
	assert.Equal(t, "0x0102030405060708090a0b0c0d0e0f10", add.Arguments[3].Value)

	raw, err := hexutil.Decode(add.Arguments[2].Value)
	require.NoError(t, err)
	var rec ContactRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, w.Record, rec)
}

func TestContactCallRequiresDirectory(t *testing.T) {
	_, err := AddContact(book, ContactWrite{Key: "bob"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestStakeAndUnstake(t *testing.T) {
	d, err := Stake(stake, sender, "0xpool", "1000000000")
	require.NoError(t, err)
	assert.Equal(t, "0xdef::staking::stake", d.Target)
	assert.Equal(t, []Argument{{Kind: KindObject, Value: "0xpool"}, {Kind: KindU64, Value: "1000000000"}}, d.Arguments)
	assert.Equal(t, "0xpool", d.Meta(MetaPoolID))
	assert.Equal(t, ActionStake, d.Action)

	u, err := Unstake(stake, sender, "0xpool", "5")
	require.NoError(t, err)
	assert.Equal(t, "0xdef::staking::unstake", u.Target)
	assert.Equal(t, ActionUnstake, u.Action)

	_, err = Stake(stake, sender, "", "5")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
	_, err = Stake(stake, sender, "0xpool", "1.5")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidAmount))
}

func TestTransfer(t *testing.T) {
	d, err := Transfer(TransferParams{Sender: sender, Recipient: bob, Amount: "1500000000", Token: "SUI", CoinType: "0x2::sui::SUI"})
	require.NoError(t, err)
	assert.Equal(t, TypeTransfer, d.TransactionType)
	assert.Empty(t, d.Target)
	assert.Equal(t, []Argument{{Kind: KindU64, Value: "1500000000"}, {Kind: KindAddress, Value: bob}}, d.Arguments)
	assert.Equal(t, []string{"0x2::sui::SUI"}, d.TypeArguments)

	_, err = Transfer(TransferParams{Recipient: "bob", Amount: "1"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestBuildersAreDeterministic(t *testing.T) {
	a, err := Stake(stake, sender, "0xpool", "42")
	require.NoError(t, err)
	b, err := Stake(stake, sender, "0xpool", "42")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMoveArguments(t *testing.T) {
	out, err := MoveArguments([]Argument{
		{Kind: KindObject, Value: "0xb00c"},
		{Kind: KindBytes, Value: "0x7b7d"},
		{Kind: KindU64, Value: "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"0xb00c", []int{123, 125}, "7"}, out)

	_, err = MoveArguments([]Argument{{Kind: KindBytes, Value: "zz"}})
	assert.Error(t, err)
}
