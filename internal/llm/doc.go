// Package llm defines the model-invocation contract used by the agent loop and
// the planner: an ordered message list plus optional tool declarations in, and
// either final content or a list of tool invocations out. Provider adapters
// live in the sub-packages.
package llm
