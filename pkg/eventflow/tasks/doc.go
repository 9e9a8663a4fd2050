// Package tasks provides the operational executors shipped with eventflow.
//
//   - EnvelopeQueue drains QUEUED envelopes through a dispatcher.
//   - RetryFailed puts failed envelopes back on the queue.
//   - PurgeRecords deletes finished envelope records past a retention age.
//
// Each is an ordinary task.Executor run by a task.Runner. Register wires
// their factories into a runner so stored tasks can be rebuilt after a
// restart.
package tasks
