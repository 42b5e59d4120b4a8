// Package planner decomposes a task into dependency-ordered steps.
//
// Decomposition is delegated to the model; this package parses the reply,
// orders the steps with Kahn's algorithm and re-plans after failures. A plan
// whose dependency graph contains a cycle is still returned, with Cyclic set
// and the unresolved steps appended in declaration order, so ExecutionOrder is
// not a dependency-safety guarantee in that case.
package planner
