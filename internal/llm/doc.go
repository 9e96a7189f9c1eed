// Package llm defines the classifier contract used by the resolver: turning a
// free-form user message into a structured intent and producing a natural
// language confirmation for transfers. Provider adapters live in subpackages.
package llm
