// Package service implements supervision and execution of the audit subprocess.
//
// The Supervisor owns an event loop. Each audit runs `eolaudit _audit` in a
// separate process, started either once (manual mode) or by a gocron
// scheduler (timer mode). Only one audit runs at a time, a start requested
// while one is active is dropped.
//
// Runner is a thin wrapper around os/exec:
//   - starts the process
//   - captures stdout
//   - optionally forwards stderr line by line (extra goroutine)
//   - delivers a Result for every finished process on ResultsChan
//
// Data flow:
//
//	Supervisor                  Runner{cmd}
//	    |                           |
//	    | Start() -> launch() ----->| Start()
//	    |                           | os/exec.Start + Wait() in goroutine
//	    |<-------- Result ----------| (process exits)
//	    | ReadReport(stdout)
//	    | store.FinishOK / FinishErr
//	    | Upload(stdout) to every uploader
//
// The audit process prints the JSON report and exits with the report exit
// code. Codes 0 to 3 are outcomes of a finished audit and the report is
// uploaded. Any other code, a crash or a report which can't be decoded is a
// failed run.
//
// Uploaders:
//   - WriteUploader copies the JSON report to a writer, stdout by default
//   - OSRootUploader stores it in a directory
//   - BOMRepoUploader publishes it as CycloneDX to a BOM repository
package service
