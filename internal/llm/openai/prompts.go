package openai

import "OpenMCP-Sui/internal/intent"

const classifySystemPrompt = "" +
	"You are the intent parser of a Sui blockchain wallet assistant. " +
	"Classify the user message into exactly one action and extract its parameters. " +
	"Amounts are decimal strings in whole tokens (\"1.5\"), never base units. " +
	"token is SUI unless the user names another token such as USDC. " +
	"When the recipient is a name rather than a 0x address set is_contact_name to true. " +
	"For save_contact fill contact_key (lowercase, spaces as underscores), contact_name, contact_address and notes. " +
	"If the request is unclear use the ambiguous action and ask one clarification_question."

const confirmSystemPrompt = "" +
	"You summarise a pending Sui transaction for the user before signing. " +
	"Describe the action in one short phrase such as \"send 1.5 SUI to 0xabc...\". " +
	"Amounts in parsed_data are base units: SUI has 9 decimals, USDC has 6. " +
	"estimated_gas and estimated_gas_fee are in SUI. " +
	"risk_level is low, medium or high; use high when the amount exceeds the sender balance or looks unusual."

func actionNames() []string {
	actions := intent.AllActions()
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, string(a))
	}
	return out
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func intentSchema() map[string]any {
	params := map[string]any{
		intent.KeyToken:          nullableString(),
		intent.KeyAmount:         nullableString(),
		intent.KeyRecipient:      nullableString(),
		intent.KeyIsContactName:  map[string]any{"type": []string{"boolean", "null"}},
		intent.KeyContactKey:     nullableString(),
		intent.KeyContactName:    nullableString(),
		intent.KeyContactAddress: nullableString(),
		intent.KeyNotes:          nullableString(),
	}
	required := []string{
		intent.KeyToken, intent.KeyAmount, intent.KeyRecipient, intent.KeyIsContactName,
		intent.KeyContactKey, intent.KeyContactName, intent.KeyContactAddress, intent.KeyNotes,
	}

	return map[string]any{
		"name":   "intent",
		"strict": true,
		"schema": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"action", "parsed_data", "confidence", "clarification_question"},
			"properties": map[string]any{
				"action": map[string]any{"type": "string", "enum": actionNames()},
				"parsed_data": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             required,
					"properties":           params,
				},
				"confidence":             map[string]any{"type": "number"},
				"clarification_question": nullableString(),
			},
		},
	}
}

func confirmationSchema() map[string]any {
	return map[string]any{
		"name":   "confirmation",
		"strict": true,
		"schema": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"action_description", "estimated_gas_fee", "risk_level", "warnings"},
			"properties": map[string]any{
				"action_description": map[string]any{"type": "string"},
				"estimated_gas_fee":  map[string]any{"type": "string"},
				"risk_level":         map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				"warnings":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
	}
}
