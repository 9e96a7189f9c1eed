// Package intent defines the structured form of a user request produced by
// the classifier and consumed by the resolver.
package intent

import (
	"fmt"
	"strconv"
	"strings"
)

// Action enumerates the operations the agent understands.
type Action string

const (
	ActionAmbiguous         Action = "ambiguous"
	ActionGetBalance        Action = "get_balance"
	ActionGetStakeInfo      Action = "get_stake_info"
	ActionStakeToken        Action = "stake_token"
	ActionUnstakeToken      Action = "unstake_token"
	ActionTransferToken     Action = "transfer_token"
	ActionCreateAddressBook Action = "create_address_book"
	ActionSaveContact       Action = "save_contact"
	ActionListContacts      Action = "list_contacts"
)

// AllActions lists every known action in classifier prompt order.
func AllActions() []Action {
	return []Action{
		ActionTransferToken,
		ActionGetBalance,
		ActionGetStakeInfo,
		ActionStakeToken,
		ActionUnstakeToken,
		ActionCreateAddressBook,
		ActionSaveContact,
		ActionListContacts,
		ActionAmbiguous,
	}
}

// Known reports whether a is one of AllActions.
func (a Action) Known() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// Parameter keys the classifier fills in ParsedData.
const (
	KeyToken          = "token"
	KeyAmount         = "amount"
	KeyRecipient      = "recipient"
	KeyIsContactName  = "is_contact_name"
	KeyContactKey     = "contact_key"
	KeyContactName    = "contact_name"
	KeyContactAddress = "contact_address"
	KeyNotes          = "notes"
)

// Intent is one classified user request.
type Intent struct {
	Action                Action         `json:"action"`
	ParsedData            map[string]any `json:"parsed_data"`
	Confidence            float64        `json:"confidence"`
	ClarificationQuestion string         `json:"clarification_question,omitempty"`
}

// String returns a parsed value as text. Numbers are rendered without
// exponent so "amount": 1.5 reads back as "1.5".
func (i Intent) String(key string) string {
	v, ok := i.ParsedData[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// StringOr returns String(key) or fallback when it is empty.
func (i Intent) StringOr(key, fallback string) string {
	if s := i.String(key); s != "" {
		return s
	}
	return fallback
}

// Bool returns a parsed flag, accepting JSON booleans and "true"/"false".
func (i Intent) Bool(key string) bool {
	switch t := i.ParsedData[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	default:
		return false
	}
}

// NormalizeKey folds a contact key to its stored form: lowercase with spaces
// replaced by underscores.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
}
