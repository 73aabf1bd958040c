// Package lib provides a Go SDK to run AI agent commands in the aisbx sandbox.
//
// Every command goes through the same pipeline: the policy decides if it can
// run, the workspace is snapshotted, the command runs in an isolated
// container with resource limits, and the workspace changes are committed
// on success or rolled back otherwise. Each step is written to an append-only
// audit log before moving on.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{WorkspaceRoot: "./workdir"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.SubmitRun(ctx, lib.CommandRequest{
//	    Command: "python",
//	    Args:    []string{"main.py"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !res.Committed() {
//	    fmt.Printf("run %s %s, workspace rolled back\n", res.CorrelationID, res.State)
//	}
//
// # Results and errors
//
// A denied, failed, timed out or canceled command is not an error: the
// [RunResult] reports the outcome and how the workspace was closed. Errors
// are infrastructure failures (snapshot, audit, engine) and can be checked
// with [errors.Is] against the package sentinel errors. [CorrelationID]
// returns the run of an error to look up its audit trail.
//
// # Engines
//
//   - [EngineDocker]: Docker containers. Requires a reachable Docker daemon.
//   - [EngineFake]: In-memory fake engine for unit testing. Set
//     [Config].Engine to [EngineFake] to use it.
//
// # Policy
//
// The policy is read from [Config].Policy or [Config].PolicyPath, with a
// built-in default otherwise. [Client.UpdatePolicy] swaps it at runtime and
// [Client.CheckPolicy] evaluates a command line without running it.
package lib
