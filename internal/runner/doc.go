// Package runner drives a simulated command workload.
//
// A Runner owns a fixed number of connections, each a goroutine that runs one
// command at a time through an [Executor]. A single dispatcher paces command
// starts, either evenly with a token bucket ([ArrivalUniform]) or with
// exponential gaps ([ArrivalPoisson]), and hands each start to whichever
// connection is free. The run ends when the command budget is spent, the
// duration elapses or the context is cancelled:
//
//	r := runner.New(runner.Options{
//		Connections: 8,
//		Duration:    time.Minute,
//		Rate:        500,
//		Executor:    client,
//	})
//	res := r.Run(ctx)
//
// Failed commands are counted in [Result.Failed] and logged at debug level.
package runner
