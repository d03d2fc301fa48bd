/*
budgetctl - Operator CLI for the trip budget ledger

PURPOSE:
  Runs the operations that should not be one click away in the UI
  (promotion) and the read-only views an operator wants in a terminal
  (summary, change log), directly against the SQLite database.

COMMANDS:
  promote    Copy one workspace onto another (asks for the target name)
  recalc     Recompute automatic items now
  recover    Restore zeroed distance days from the change log
  summary    Budget summary of a workspace
  changelog  Query the change log

CONFIGURATION:
  Same loader as the server (CONFIG_PATH, .env, ENV). --db overrides the
  database path.
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
