// Package tasks orchestrates download runs with real-time progress reporting.
//
// # State Machine
//
// Each run moves through:
//
//	Idle → AcquiringExecutionGuarantee → ProbingServer → Running → Releasing → Idle
//
// with Failed reachable from any step. Releasing always runs: the execution guarantee is released, the session
// cache is checkpointed, and the OnSettled hook is called exactly once.
//
// # Collaborators
//
//   - [Session] : materializes the active account before the downloader reads credentials
//   - [Guarantee] : time-bounded execution token; [FileGuarantee] uses a flock lock file
//   - [ReadinessProber] : advisory; a not-ready server is logged and the run continues
//   - [Downloader] : the external downloader call; [CommandDownloader] runs it as a child process
//
// # Reentrancy
//
// [Orchestrator.Start] is non-blocking and admits one run per Orchestrator. A second Start while a run is active
// fails with [shared.ErrAlreadyRunning]. The [FileGuarantee] extends the same rule across processes sharing a
// data dir.
//
// # Progress Reporting
//
// [ProgressUpdate] values are sent on the request's optional channel with select/default so reporting never
// blocks a run.
package tasks
