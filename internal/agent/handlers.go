package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"OpenMCP-Sui/internal/amount"
	"OpenMCP-Sui/internal/directory"
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
	"OpenMCP-Sui/internal/txbuilder"
	"OpenMCP-Sui/internal/web3"
)

const (
	balancePlaces = 4
	suiDecimals   = 9

	msgPoolNotConfigured = "Staking pool not configured. Please set OPENMCP_SUI_STAKE_POOL_ID in the backend environment."
	msgRecipientMissing  = "Who should receive the transfer? Give a 0x address or a saved contact name."
)

func (r *Resolver) handleAmbiguous(_ context.Context, in intent.Intent, _ string) (*Outcome, error) {
	question := strings.TrimSpace(in.ClarificationQuestion)
	if question == "" {
		question = "Could you provide more details?"
	}
	return clarification(in, question), nil
}

func (r *Resolver) handleGetBalance(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	token, err := r.tokens.Lookup(in.String(intent.KeyToken))
	if err != nil {
		return nil, err
	}
	bal, err := r.balance(ctx, account, token)
	if err != nil {
		return nil, err
	}
	return informational(in, fmt.Sprintf("Your %s balance is %s", bal.Token, bal.Formatted)), nil
}

func (r *Resolver) handleGetStakeInfo(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	if r.cfg.StakePoolID == "" {
		r.log.Warn("stake pool not configured")
		return informational(in, msgPoolNotConfigured), nil
	}
	info, err := web3.ReadStake(ctx, r.ledger, r.cfg.StakePoolID, account)
	if err != nil {
		return nil, ledgerError(err, "读取质押池失败")
	}
	total, err := amount.FormatFixed(info.TotalStaked, suiDecimals, balancePlaces)
	if err != nil {
		return nil, ledgerError(err, "质押池余额格式错误")
	}
	user, err := amount.FormatFixed(info.UserStaked, suiDecimals, balancePlaces)
	if err != nil {
		return nil, ledgerError(err, "用户质押额格式错误")
	}
	return informational(in, fmt.Sprintf(
		"Staking Pool Status:\n• Total staked in pool: %s SUI\n• Your staked: %s SUI", total, user)), nil
}

func (r *Resolver) handleStake(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	return r.poolAction(ctx, in, account, true)
}

func (r *Resolver) handleUnstake(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	return r.poolAction(ctx, in, account, false)
}

func (r *Resolver) poolAction(ctx context.Context, in intent.Intent, account string, stake bool) (*Outcome, error) {
	if r.cfg.StakePoolID == "" {
		r.log.Warn("stake pool not configured")
		return informational(in, msgPoolNotConfigured), nil
	}

	token, err := r.tokens.Lookup("SUI")
	if err != nil {
		return nil, err
	}
	raw := in.String(intent.KeyAmount)
	base, err := amount.Normalize(raw, token.Decimals)
	if err != nil {
		return nil, err
	}
	bal, err := r.balance(ctx, account, token)
	if err != nil {
		return nil, err
	}

	if stake {
		d, err := txbuilder.Stake(r.cfg.Staking, account, r.cfg.StakePoolID, base)
		if err != nil {
			return nil, err
		}
		return ready(in, d, fmt.Sprintf(
			"Ready to stake %s SUI. Balance: %s SUI. Sign with your wallet to confirm.", raw, bal.Formatted)), nil
	}
	d, err := txbuilder.Unstake(r.cfg.Staking, account, r.cfg.StakePoolID, base)
	if err != nil {
		return nil, err
	}
	return ready(in, d, fmt.Sprintf("Ready to unstake %s SUI. Sign with your wallet to confirm.", raw)), nil
}

func (r *Resolver) handleTransfer(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	recipient := in.String(intent.KeyRecipient)
	log := r.log.With(slog.String("recipient", recipient))

	if strings.TrimSpace(recipient) == "" {
		return clarification(in, msgRecipientMissing), nil
	}
	// Anything that is not a 0x address is a contact key, whatever
	// is_contact_name says.
	if !strings.HasPrefix(recipient, "0x") {
		res, err := r.directory.Resolve(ctx, account, recipient)
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case directory.StatusResolved:
			log.Info("contact resolved", slog.String("address", res.Address))
			recipient = res.Address
		case directory.StatusNeedsResave:
			log.Warn("contact needs re-save")
			return informational(in, fmt.Sprintf(
				"Contact '%s' exists but was saved in an old format. Please re-save it: 'Save [name] [0x address] as %s'",
				recipient, recipient)), nil
		case directory.StatusNoDirectory:
			log.Warn("no address book")
			return informational(in, fmt.Sprintf(
				"Contact '%s' not found. You don't have an address book yet. Say 'Create my address book' to get started, then save contacts with 'Save [name] [address] as [nickname]'.",
				recipient)), nil
		default:
			log.Warn("contact not found", slog.Any("suggestions", res.Suggestions))
			msg := fmt.Sprintf(
				"Contact '%s' not found in your address book. Save it first with: 'Save [name] [0x address] as %s'",
				recipient, recipient)
			if len(res.Suggestions) > 0 {
				msg += fmt.Sprintf(" Did you mean: %s?", strings.Join(res.Suggestions, ", "))
			}
			return informational(in, msg), nil
		}
	}

	token, err := r.tokens.Lookup(in.String(intent.KeyToken))
	if err != nil {
		return nil, err
	}
	bal, err := r.balance(ctx, account, token)
	if err != nil {
		return nil, err
	}
	base, err := amount.Normalize(in.String(intent.KeyAmount), token.Decimals)
	if err != nil {
		return nil, err
	}

	d, err := txbuilder.Transfer(txbuilder.TransferParams{
		Sender:    account,
		Recipient: recipient,
		Amount:    base,
		Token:     token.Symbol,
		CoinType:  token.CoinType,
	})
	if err != nil {
		return nil, err
	}

	gasMist, err := r.gas.EstimateGas(ctx, d)
	if err != nil {
		return nil, ledgerError(err, "估算 gas 失败")
	}
	gasSUI, err := amount.Format(gasMist, suiDecimals)
	if err != nil {
		return nil, err
	}

	confirmation, err := r.confirm(ctx, llm.ConfirmationRequest{
		Action: string(intent.ActionTransferToken),
		ParsedData: map[string]any{
			intent.KeyRecipient: recipient,
			intent.KeyAmount:    base,
			intent.KeyToken:     token.Symbol,
		},
		SenderBalance: bal.Balance,
		EstimatedGas:  gasSUI,
	})
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Ready to %s. Estimated gas: ~%s SUI.", confirmation.ActionDescription, confirmation.EstimatedGasFee)
	out := ready(in, d, msg)
	out.DryRun = confirmation
	if confirmation.HighRisk() {
		log.Warn("high risk transfer requires re-confirmation")
		out.State = StateInformational
		out.ReadyToExecute = false
	}
	return out, nil
}

func (r *Resolver) confirm(ctx context.Context, req llm.ConfirmationRequest) (*llm.Confirmation, error) {
	if r.classifier == nil {
		return &llm.Confirmation{
			ActionDescription: fmt.Sprintf("%s %v", req.Action, req.ParsedData),
			EstimatedGasFee:   req.EstimatedGas,
			RiskLevel:         "medium",
		}, nil
	}
	llmCtx, cancel := r.withLLMTimeout(ctx)
	defer cancel()
	conf, err := r.classifier.GenerateConfirmation(llmCtx, req)
	if err != nil {
		return nil, classifierError(err, "生成交易确认失败")
	}
	if conf.EstimatedGasFee == "" {
		conf.EstimatedGasFee = req.EstimatedGas
	}
	return conf, nil
}

func (r *Resolver) handleCreateAddressBook(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	h, err := r.directory.Find(ctx, account)
	if err != nil {
		return nil, err
	}
	if h != nil {
		return informational(in, fmt.Sprintf(
			"You already have an address book (ID: %s...). You can start saving contacts!", prefix(h.ObjectID, 16))), nil
	}
	d := txbuilder.CreateAddressBook(r.cfg.AddressBook, account)
	return ready(in, d, "Ready to create your on-chain address book. This is a one-time setup that stores your contacts permanently on Sui. Estimated gas: ~0.01 SUI."), nil
}

func (r *Resolver) handleSaveContact(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	key := intent.NormalizeKey(in.String(intent.KeyContactKey))
	name := in.String(intent.KeyContactName)
	address := in.String(intent.KeyContactAddress)
	notes := in.String(intent.KeyNotes)

	if key == "" || address == "" {
		return informational(in, "I need a contact name/key and wallet address to save. Example: 'Save Alice's address 0x123... as alice'"), nil
	}

	h, err := r.directory.Find(ctx, account)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return informational(in, "You don't have an address book yet. Say 'Create my address book' first!"), nil
	}
	entries, err := r.directory.ReadEntries(ctx, h)
	if err != nil {
		return nil, err
	}

	nonce, err := r.nonce()
	if err != nil {
		return nil, ledgerError(err, "生成随机数失败")
	}
	write := txbuilder.ContactWrite{
		Sender:      account,
		DirectoryID: h.ObjectID,
		Key:         key,
		Record:      txbuilder.ContactRecord{Name: name, Address: address, Notes: notes},
		Nonce:       nonce,
		Timestamp:   uint64(r.now().Unix()),
	}

	verb := "save"
	var d txbuilder.Descriptor
	if existing, ok := directory.Lookup(entries, key); ok {
		verb = "update"
		write.Key = existing.Key
		d, err = txbuilder.UpdateContact(r.cfg.AddressBook, write)
	} else {
		d, err = txbuilder.AddContact(r.cfg.AddressBook, write)
	}
	if err != nil {
		return nil, err
	}
	return ready(in, d, fmt.Sprintf(
		"Ready to %s '%s' as '%s' in your address book. Estimated gas: ~0.02 SUI.", verb, name, write.Key)), nil
}

func (r *Resolver) handleListContacts(ctx context.Context, in intent.Intent, account string) (*Outcome, error) {
	h, err := r.directory.Find(ctx, account)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return informational(in, "You don't have an address book yet. Say 'Create my address book' to get started!"), nil
	}
	entries, err := r.directory.ReadEntries(ctx, h)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return informational(in, "Your address book is empty. Save contacts using: 'Save [name] [0x address] as [nickname]'"), nil
	}

	keys := directory.SortedKeys(entries)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, renderContact(entries[key]))
	}
	return informational(in, fmt.Sprintf(
		"**Your Contacts (%d):**\n\n%s\n\nUse a nickname to send, e.g., 'Send 0.1 SUI to %s'",
		len(lines), strings.Join(lines, "\n"), keys[0])), nil
}

func renderContact(e directory.Entry) string {
	if e.NeedsResave || e.Address == "" {
		return fmt.Sprintf("• %s: (encrypted)", e.Key)
	}
	name := e.Name
	if name == "" {
		name = e.Key
	}
	return fmt.Sprintf("• %s: %s (%s)", e.Key, name, shortAddress(e.Address))
}

func shortAddress(addr string) string {
	if len(addr) <= 20 {
		return addr
	}
	return addr[:12] + "..." + addr[len(addr)-8:]
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (r *Resolver) balance(ctx context.Context, account string, token web3.Token) (*web3.Balance, error) {
	raw, err := r.ledger.Balance(ctx, account, token.CoinType)
	if err != nil {
		return nil, ledgerError(err, "查询余额失败")
	}
	formatted, err := amount.FormatFixed(raw, token.Decimals, balancePlaces)
	if err != nil {
		return nil, ledgerError(err, "余额格式错误")
	}
	return &web3.Balance{Token: token.Symbol, Balance: raw, Formatted: formatted}, nil
}
