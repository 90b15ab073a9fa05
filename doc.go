// Package plunge provides a Go library for running untrusted code in
// isolated sandboxes with interpreter state that persists between runs.
// On top of single executions it offers dependency-aware workflow
// scheduling and automatic repair of failing code.
//
// The core types are:
//
//   - [Executor] runs a code snippet in an isolated environment and reports
//     the outcome as an [ExecutionResult].
//   - [Repairer] proposes a corrected snippet for a failed execution.
//   - [ErrorClassifier] sorts failures into categories (sandbox, input,
//     execution, logic) that drive retry and repair decisions.
//   - [Artifact] describes a file produced by an execution; [CollectArtifacts]
//     gathers them from a result directory.
//   - [ProgressSink] receives human-readable progress updates as runs advance.
//
// # Quick Start
//
//	executor, _ := sandbox.NewExecutor(sandbox.ExecutorOptions{})
//	result := executor.Execute(ctx, plunge.ExecutionRequest{
//	    ProjectID: "analysis",
//	    Code:      "print('hello from the sandbox')",
//	})
//	fmt.Println(result.Stdout)
//
// Sandbox backends live in the [github.com/deepnoodle-ai/plunge/sandbox]
// package. Sequential chains with repair are in
// [github.com/deepnoodle-ai/plunge/chain], dependency-scheduled workflows in
// [github.com/deepnoodle-ai/plunge/workflow], and
// [github.com/deepnoodle-ai/plunge/engine] composes them behind one API.
package plunge
