// Command eventflow is the operator control surface for eventflow stores:
// it lists and cancels tasks, runs created tasks, tails the processed item
// ledger, inspects stored envelopes, and runs the built-in purge and retry
// tasks.
//
// Storage is selected with flags, EVENTFLOW_* environment variables, or a
// settings file:
//
//	eventflow --storage-driver sqlite --dsn /var/lib/eventflow.db tasks list
//	EVENTFLOW_STORAGE_DSN=/var/lib/eventflow.db eventflow retry-failed
//	eventflow --config eventflow.yaml purge --older-than 72h
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
