package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenMCP-Sui/internal/directory"
	xerrors "OpenMCP-Sui/internal/errors"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
	"OpenMCP-Sui/internal/storage/mysql"
	"OpenMCP-Sui/internal/txbuilder"
	"OpenMCP-Sui/internal/web3"
	"OpenMCP-Sui/internal/web3/web3test"
)

const (
	account = "0x6d2214052b18cc9ff2f97cb904343a47ab9d85453e45e9477197e75eab365eac"
	momAddr = "0x1111111111111111111111111111111111111111111111111111111111111111"
	bookID  = "0xb00c5e2a7d1f4c0b9e6a8d3c2b1a0f9e8d7c6b5a4f3e2d1c0b9a8f7e6d5c4b3a"
	poolID  = "0x9001"
)

var testCfg = Config{
	AddressBook: txbuilder.Module{PackageID: "0xbook", Name: "address_book"},
	Staking:     txbuilder.Module{PackageID: "0xstake", Name: "staking"},
	StakePoolID: poolID,
}

type stubClassifier struct {
	mu           sync.Mutex
	intent       *intent.Intent
	err          error
	wait         time.Duration
	confirmation *llm.Confirmation
	confirmReqs  []llm.ConfirmationRequest
	contexts     []llm.Context
}

func (s *stubClassifier) ClassifyIntent(ctx context.Context, _ string, cctx llm.Context) (*intent.Intent, error) {
	s.mu.Lock()
	s.contexts = append(s.contexts, cctx)
	s.mu.Unlock()
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	clone := *s.intent
	return &clone, nil
}

func (s *stubClassifier) GenerateConfirmation(_ context.Context, req llm.ConfirmationRequest) (*llm.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmReqs = append(s.confirmReqs, req)
	if s.confirmation != nil {
		clone := *s.confirmation
		return &clone, nil
	}
	return &llm.Confirmation{ActionDescription: "send funds", RiskLevel: "low"}, nil
}

func newResolver(t *testing.T, classifier *stubClassifier, opts ...Option) (*Resolver, *web3test.Ledger) {
	t.Helper()
	ledger := web3test.NewLedger()
	fixed := time.Unix(1700000000, 0)
	base := []Option{
		WithClock(func() time.Time { return fixed }),
		WithNonceSource(func() ([]byte, error) { return make([]byte, 16), nil }),
	}
	var c llm.Classifier
	if classifier != nil {
		c = classifier
	}
	return New(c, ledger, nil, testCfg, append(base, opts...)...), ledger
}

func bookType() string {
	return directory.Config{PackageID: testCfg.AddressBook.PackageID, Module: testCfg.AddressBook.Name}.StructType()
}

func contact(key, name, addr string) web3test.Contact {
	return web3test.Contact{Key: key, Data: []byte(`{"name":"` + name + `","address":"` + addr + `","notes":""}`)}
}

func act(a intent.Action, data map[string]any) intent.Intent {
	if data == nil {
		data = map[string]any{}
	}
	return intent.Intent{Action: a, ParsedData: data, Confidence: 0.9}
}

func TestEveryKnownActionHasHandler(t *testing.T) {
	r, _ := newResolver(t, nil)
	for _, a := range intent.AllActions() {
		_, ok := r.handlers[a]
		assert.True(t, ok, "missing handler for %s", a)
	}
	assert.Len(t, r.handlers, len(intent.AllActions()))
}

func TestAccountScopedActionsRequireAccount(t *testing.T) {
	r, _ := newResolver(t, nil)
	for _, a := range intent.AllActions() {
		if a == intent.ActionAmbiguous {
			continue
		}
		_, err := r.Resolve(context.Background(), act(a, nil), "")
		assert.True(t, xerrors.HasCode(err, xerrors.CodeMissingAccount), "action %s: %v", a, err)
		assert.Equal(t, 400, xerrors.StatusOf(err))
	}
}

func TestAmbiguousAndUnknown(t *testing.T) {
	r, _ := newResolver(t, nil)

	in := act(intent.ActionAmbiguous, nil)
	in.ClarificationQuestion = "Which token?"
	out, err := r.Resolve(context.Background(), in, "")
	require.NoError(t, err)
	assert.Equal(t, StateClarification, out.State)
	assert.Equal(t, "Which token?", out.Message)

	out, err = r.Resolve(context.Background(), act(intent.ActionAmbiguous, nil), "")
	require.NoError(t, err)
	assert.Equal(t, "Could you provide more details?", out.Message)

	out, err = r.Resolve(context.Background(), act("swap_token", nil), "")
	require.NoError(t, err)
	assert.Equal(t, StateInformational, out.State)
	assert.Equal(t, "I didn't understand that. Could you rephrase?", out.Message)
	assert.False(t, out.ReadyToExecute)
}

func TestGetBalance(t *testing.T) {
	r, ledger := newResolver(t, nil)
	ledger.SetBalance(account, web3.SUICoinType, "1500000000")

	out, err := r.Resolve(context.Background(), act(intent.ActionGetBalance, map[string]any{"token": "SUI"}), account)
	require.NoError(t, err)
	assert.Equal(t, "Your SUI balance is 1.5000", out.Message)
	assert.Equal(t, StateInformational, out.State)

	_, err = r.Resolve(context.Background(), act(intent.ActionGetBalance, map[string]any{"token": "DOGE"}), account)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnknownToken))
}

func TestLedgerFailureIsLedgerUnavailable(t *testing.T) {
	r, ledger := newResolver(t, nil)
	ledger.ReadErr = errors.New("connection refused")

	_, err := r.Resolve(context.Background(), act(intent.ActionGetBalance, nil), account)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeLedgerUnavailable))
	assert.True(t, xerrors.RetryableError(err))
}

func TestTransferToContact(t *testing.T) {
	classifier := &stubClassifier{confirmation: &llm.Confirmation{
		ActionDescription: "send 1.5 SUI to mom",
		EstimatedGasFee:   "0.002",
		RiskLevel:         "low",
	}}
	r, ledger := newResolver(t, classifier)
	ledger.SetAddressBook(account, bookType(), bookID, contact("Mom", "Mom", momAddr))
	ledger.SetBalance(account, web3.SUICoinType, "5000000000")

	out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
		"token": "SUI", "amount": "1.5", "recipient": "mom", "is_contact_name": true,
	}), account)
	require.NoError(t, err)

	assert.True(t, out.ReadyToExecute)
	assert.Equal(t, StateReadyToExecute, out.State)
	require.NotNil(t, out.Descriptor)
	assert.Equal(t, "1500000000", out.Descriptor.Meta(txbuilder.MetaAmount))
	assert.Equal(t, momAddr, out.Descriptor.Meta(txbuilder.MetaRecipient))
	assert.Equal(t, "Ready to send 1.5 SUI to mom. Estimated gas: ~0.002 SUI.", out.Message)
	require.NotNil(t, out.DryRun)

	require.Len(t, classifier.confirmReqs, 1)
	req := classifier.confirmReqs[0]
	assert.Equal(t, "0.002", req.EstimatedGas)
	assert.Equal(t, "5000000000", req.SenderBalance)
	assert.Equal(t, "1500000000", req.ParsedData[intent.KeyAmount])
}

func TestTransferHighRiskIsNotReady(t *testing.T) {
	classifier := &stubClassifier{confirmation: &llm.Confirmation{ActionDescription: "send 100 SUI", RiskLevel: "high"}}
	r, _ := newResolver(t, classifier)

	out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
		"amount": "100", "recipient": momAddr,
	}), account)
	require.NoError(t, err)
	assert.False(t, out.ReadyToExecute)
	assert.Equal(t, StateInformational, out.State)
	assert.NotNil(t, out.Descriptor)
	assert.Equal(t, "Ready to send 100 SUI. Estimated gas: ~0.002 SUI.", out.Message)
}

func TestTransferUSDCUsesSixDecimals(t *testing.T) {
	r, _ := newResolver(t, &stubClassifier{})
	out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
		"token": "usdc", "amount": "2.5", "recipient": momAddr,
	}), account)
	require.NoError(t, err)
	assert.Equal(t, "2500000", out.Descriptor.Meta(txbuilder.MetaAmount))
	assert.Equal(t, "USDC", out.Descriptor.Meta(txbuilder.MetaToken))
}

func TestTransferRecipientResolutionGaps(t *testing.T) {
	transfer := act(intent.ActionTransferToken, map[string]any{"amount": "1", "recipient": "dad", "is_contact_name": true})

	t.Run("no directory", func(t *testing.T) {
		r, _ := newResolver(t, &stubClassifier{})
		out, err := r.Resolve(context.Background(), transfer, account)
		require.NoError(t, err)
		assert.False(t, out.ReadyToExecute)
		assert.Contains(t, out.Message, "You don't have an address book yet")
	})

	t.Run("needs resave", func(t *testing.T) {
		r, ledger := newResolver(t, &stubClassifier{})
		ledger.SetAddressBook(account, bookType(), bookID, web3test.Contact{Key: "dad", Data: []byte{0xde, 0xad, 0xbe, 0xef}})
		out, err := r.Resolve(context.Background(), transfer, account)
		require.NoError(t, err)
		assert.False(t, out.ReadyToExecute)
		assert.Nil(t, out.Descriptor)
		assert.Contains(t, out.Message, "'dad'")
		assert.Contains(t, out.Message, "old format")
	})

	t.Run("not found", func(t *testing.T) {
		r, ledger := newResolver(t, &stubClassifier{})
		ledger.SetAddressBook(account, bookType(), bookID, contact("daddy", "Dad", momAddr))
		out, err := r.Resolve(context.Background(), transfer, account)
		require.NoError(t, err)
		assert.False(t, out.ReadyToExecute)
		assert.Contains(t, out.Message, "not found in your address book")
		assert.Contains(t, out.Message, "Did you mean: daddy?")
	})
}

func TestTransferInvalidAmount(t *testing.T) {
	r, _ := newResolver(t, &stubClassifier{})
	_, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
		"amount": "-1", "recipient": momAddr,
	}), account)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidAmount))
}

func TestCreateAddressBook(t *testing.T) {
	r, ledger := newResolver(t, nil)

	out, err := r.Resolve(context.Background(), act(intent.ActionCreateAddressBook, nil), account)
	require.NoError(t, err)
	assert.True(t, out.ReadyToExecute)
	assert.Equal(t, "0xbook::address_book::create_address_book", out.Descriptor.Target)

	ledger.SetAddressBook(account, bookType(), bookID)
	out, err = r.Resolve(context.Background(), act(intent.ActionCreateAddressBook, nil), account)
	require.NoError(t, err)
	assert.False(t, out.ReadyToExecute)
	assert.Nil(t, out.Descriptor)
	assert.Contains(t, out.Message, bookID[:16]+"...")
}

func TestSaveContactChoosesAddOrUpdate(t *testing.T) {
	r, ledger := newResolver(t, nil)
	ledger.SetAddressBook(account, bookType(), bookID, contact("Mom", "Mom", momAddr))

	save := func(key string) *Outcome {
		out, err := r.Resolve(context.Background(), act(intent.ActionSaveContact, map[string]any{
			"contact_key": key, "contact_name": "Someone", "contact_address": momAddr,
		}), account)
		require.NoError(t, err)
		require.NotNil(t, out.Descriptor)
		return out
	}

	update := save("mom")
	assert.Equal(t, txbuilder.ActionUpdateContact, update.Descriptor.Action)
	assert.Equal(t, "Mom", update.Descriptor.Arguments[1].Value)
	assert.Equal(t, "Ready to update 'Someone' as 'Mom' in your address book. Estimated gas: ~0.02 SUI.", update.Message)

	add := save("Uncle Bob")
	assert.Equal(t, txbuilder.ActionAddContact, add.Descriptor.Action)
	assert.Equal(t, "uncle_bob", add.Descriptor.Arguments[1].Value)
	assert.Equal(t, "1700000000", add.Descriptor.Arguments[4].Value)
	assert.Equal(t, "0x00000000000000000000000000000000", add.Descriptor.Arguments[3].Value)
}

func TestSaveContactPrerequisites(t *testing.T) {
	r, ledger := newResolver(t, nil)

	out, err := r.Resolve(context.Background(), act(intent.ActionSaveContact, map[string]any{"contact_key": "mom"}), account)
	require.NoError(t, err)
	assert.Contains(t, out.Message, "I need a contact name/key and wallet address")

	out, err = r.Resolve(context.Background(), act(intent.ActionSaveContact, map[string]any{
		"contact_key": "mom", "contact_address": momAddr,
	}), account)
	require.NoError(t, err)
	assert.Equal(t, "You don't have an address book yet. Say 'Create my address book' first!", out.Message)
	assert.Zero(t, len(ledger.MoveCalls))
}

func TestListContactsRendersUndecodableEntries(t *testing.T) {
	r, ledger := newResolver(t, nil)
	ledger.SetAddressBook(account, bookType(), bookID,
		contact("alice", "Alice", momAddr),
		web3test.Contact{Key: "bob", Data: []byte{0xff, 0x00, 0x13}},
	)

	out, err := r.Resolve(context.Background(), act(intent.ActionListContacts, nil), account)
	require.NoError(t, err)
	assert.Equal(t, StateInformational, out.State)
	assert.Equal(t,
		"**Your Contacts (2):**\n\n• alice: Alice (0x1111111111...11111111)\n• bob: (encrypted)\n\nUse a nickname to send, e.g., 'Send 0.1 SUI to alice'",
		out.Message)
}

func TestListContactsEmptyAndMissing(t *testing.T) {
	r, ledger := newResolver(t, nil)

	out, err := r.Resolve(context.Background(), act(intent.ActionListContacts, nil), account)
	require.NoError(t, err)
	assert.Equal(t, "You don't have an address book yet. Say 'Create my address book' to get started!", out.Message)

	ledger.SetAddressBook(account, bookType(), bookID)
	out, err = r.Resolve(context.Background(), act(intent.ActionListContacts, nil), account)
	require.NoError(t, err)
	assert.Equal(t, "Your address book is empty. Save contacts using: 'Save [name] [0x address] as [nickname]'", out.Message)
}

func TestStakeAndUnstake(t *testing.T) {
	r, ledger := newResolver(t, nil)
	ledger.SetBalance(account, web3.SUICoinType, "3000000000")

	out, err := r.Resolve(context.Background(), act(intent.ActionStakeToken, map[string]any{"amount": "1"}), account)
	require.NoError(t, err)
	assert.True(t, out.ReadyToExecute)
	assert.Equal(t, "0xstake::staking::stake", out.Descriptor.Target)
	assert.Equal(t, "1000000000", out.Descriptor.Arguments[1].Value)
	assert.Equal(t, "Ready to stake 1 SUI. Balance: 3.0000 SUI. Sign with your wallet to confirm.", out.Message)

	out, err = r.Resolve(context.Background(), act(intent.ActionUnstakeToken, map[string]any{"amount": "0.5"}), account)
	require.NoError(t, err)
	assert.Equal(t, "0xstake::staking::unstake", out.Descriptor.Target)
	assert.Equal(t, "Ready to unstake 0.5 SUI. Sign with your wallet to confirm.", out.Message)
}

func TestStakeWithoutPool(t *testing.T) {
	ledger := web3test.NewLedger()
	cfg := testCfg
	cfg.StakePoolID = ""
	r := New(nil, ledger, nil, cfg)

	for _, a := range []intent.Action{intent.ActionStakeToken, intent.ActionUnstakeToken, intent.ActionGetStakeInfo} {
		out, err := r.Resolve(context.Background(), act(a, map[string]any{"amount": "1"}), account)
		require.NoError(t, err)
		assert.False(t, out.ReadyToExecute)
		assert.Contains(t, out.Message, "Staking pool not configured")
	}
}

func TestGetStakeInfo(t *testing.T) {
	r, ledger := newResolver(t, nil)
	ledger.SetObject(poolID, "0xstake::staking::StakePool", map[string]any{
		"balance": "12345000000",
		"stakes":  map[string]any{"fields": map[string]any{"id": map[string]any{"id": "0xtable"}}},
	})
	ledger.SetDynamicField("0xtable", account, map[string]any{"value": "2000000000"})

	out, err := r.Resolve(context.Background(), act(intent.ActionGetStakeInfo, nil), account)
	require.NoError(t, err)
	assert.Equal(t, "Staking Pool Status:\n• Total staked in pool: 12.3450 SUI\n• Your staked: 2.0000 SUI", out.Message)
}

func TestChatRecordsHistory(t *testing.T) {
	repo, err := mysql.NewMemoryHistoryRepository(t.TempDir())
	require.NoError(t, err)
	in := act(intent.ActionGetBalance, nil)
	classifier := &stubClassifier{intent: &in}
	r, ledger := newResolver(t, classifier, WithHistory(repo), WithMemoryDepth(3))
	ledger.SetBalance(account, web3.SUICoinType, "1000000000")

	out, err := r.Chat(context.Background(), "what's my balance?", account)
	require.NoError(t, err)
	assert.Equal(t, "Your SUI balance is 1.0000", out.Message)

	_, err = r.Chat(context.Background(), "and again?", account)
	require.NoError(t, err)

	require.Len(t, classifier.contexts, 2)
	assert.Empty(t, classifier.contexts[0].History)
	require.Len(t, classifier.contexts[1].History, 1)
	assert.Equal(t, "what's my balance?", classifier.contexts[1].History[0].Message)
	assert.Equal(t, "Your SUI balance is 1.0000", classifier.contexts[1].History[0].Reply)
}

func TestChatClassifierTimeout(t *testing.T) {
	in := act(intent.ActionGetBalance, nil)
	classifier := &stubClassifier{intent: &in, wait: 50 * time.Millisecond}
	r, _ := newResolver(t, classifier, WithLLMTimeout(10*time.Millisecond))

	_, err := r.Chat(context.Background(), "balance", account)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeTimeout))
}

func TestChatClassifierFailure(t *testing.T) {
	r, _ := newResolver(t, &stubClassifier{err: errors.New("model overloaded")})
	_, err := r.Chat(context.Background(), "balance", account)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeClassificationError))
}

func TestTransferUnflaggedNameIsResolved(t *testing.T) {
	t.Run("saved contact", func(t *testing.T) {
		r, ledger := newResolver(t, &stubClassifier{})
		ledger.SetAddressBook(account, bookType(), bookID, contact("Mom", "Mom", momAddr))
		out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
			"amount": "1", "recipient": "mom", "is_contact_name": false,
		}), account)
		require.NoError(t, err)
		require.NotNil(t, out.Descriptor)
		assert.Equal(t, momAddr, out.Descriptor.Meta(txbuilder.MetaRecipient))
	})

	t.Run("no directory", func(t *testing.T) {
		r, _ := newResolver(t, &stubClassifier{})
		out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
			"amount": "1", "recipient": "alice", "is_contact_name": false,
		}), account)
		require.NoError(t, err)
		assert.False(t, out.ReadyToExecute)
		assert.Equal(t, StateInformational, out.State)
		assert.Contains(t, out.Message, "Contact 'alice' not found")
	})
}

func TestTransferWithoutRecipientAsksForOne(t *testing.T) {
	r, _ := newResolver(t, &stubClassifier{})
	out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{"amount": "1"}), account)
	require.NoError(t, err)
	assert.Equal(t, StateClarification, out.State)
	assert.False(t, out.ReadyToExecute)
	assert.Nil(t, out.Descriptor)
}

func TestTransferRejectsBasePrefixedAmount(t *testing.T) {
	r, _ := newResolver(t, &stubClassifier{})
	for _, raw := range []string{"0x10", "0b1"} {
		out, err := r.Resolve(context.Background(), act(intent.ActionTransferToken, map[string]any{
			"amount": raw, "recipient": momAddr,
		}), account)
		assert.Nil(t, out, raw)
		assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidAmount), raw)
	}
}
