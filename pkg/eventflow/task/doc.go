// Package task runs durable, checkpointed units of batch work.
//
// A unit of work implements [Executor]: it serves pages of candidate items
// and processes one item at a time. The [Runner] drives an executor to
// completion. It persists the task's counter after every item, observes
// cancellation only at those checkpoints, records each outcome in a
// ledger, and lets at most one run per task type and trigger execute at a
// time.
//
// # Drain-queue executors
//
// Executors whose items disappear once processed (a queue being emptied)
// declare Capabilities.DrainQueue. The runner then always requests page 0,
// since offsets would skip items shifted forward by earlier deletions, and
// stops once it has processed the item count reported by the first page.
//
// # Idempotency
//
// Before processing an item the runner asks the ledger whether the task's
// owner already handled it. A recoverable executor restarted after a crash
// therefore resumes with the items it has not seen. Executors that must act
// on the same items every run implement [ProcessedQueueChecker].
package task
