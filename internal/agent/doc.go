// Package agent implements the single-agent execution loop: it assembles the
// conversation, calls the model, dispatches requested tools through the
// registry and repeats until the model answers or the iteration budget runs
// out. Planning and long-term memory are optional collaborators whose failures
// degrade the run instead of aborting it.
package agent
