// Package llm provides LLM client implementations.
//
// The factory creates LLM clients based on provider configuration.
// Currently supports:
//   - Anthropic Claude, used by the supervisor classifier
package llm
