// Package orchestrator drives the recursive explanation workflow.
//
// An Engine walks a growing concept tree for one session:
//   - each node is explained, critiqued and revised a bounded number of times
//   - nodes with depth remaining are decomposed, validated when the provider
//     is unsure, filtered for duplicates and fanned out concurrently
//   - every node joins on all of its children before it returns, and a failed
//     child subtree is recorded without aborting its siblings
//
// Every state transition is flushed to the session's WorkflowStore before the
// next step, so Resume can rebuild the tree and skip finished topics without
// calling the provider again.
//
// SessionRunner wires an Engine to the session registry, the per-session debug
// and failure logs, the MkDocs output and the interrupt signal file.
//
// Example usage:
//
//	runner := orchestrator.NewSessionRunner(registry, orchestrator.WithCompleter(client))
//	sess, result, err := runner.Start(ctx, "React Hooks", models.PersonaNovice, 2)
package orchestrator
