package agent

import (
	"OpenMCP-Sui/internal/intent"
	"OpenMCP-Sui/internal/llm"
	"OpenMCP-Sui/internal/txbuilder"
)

// State 表示一次解析的终态。
type State string

const (
	StateClarification  State = "clarification"
	StateInformational  State = "informational"
	StateReadyToExecute State = "ready_to_execute"
)

// Outcome 汇总一次意图解析的结果。
type Outcome struct {
	Intent         intent.Intent         `json:"intent"`
	State          State                 `json:"state"`
	Descriptor     *txbuilder.Descriptor `json:"transaction_data,omitempty"`
	DryRun         *llm.Confirmation     `json:"dry_run,omitempty"`
	ReadyToExecute bool                  `json:"ready_to_execute"`
	Message        string                `json:"message"`
}

func clarification(in intent.Intent, msg string) *Outcome {
	return &Outcome{Intent: in, State: StateClarification, Message: msg}
}

func informational(in intent.Intent, msg string) *Outcome {
	return &Outcome{Intent: in, State: StateInformational, Message: msg}
}

func ready(in intent.Intent, d txbuilder.Descriptor, msg string) *Outcome {
	return &Outcome{Intent: in, State: StateReadyToExecute, Descriptor: &d, ReadyToExecute: true, Message: msg}
}
