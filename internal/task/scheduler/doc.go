// Package scheduler runs the daily trigger table.
//
// The persisted schedule file is compiled into an immutable table of daily
// triggers. A single polling loop compares each trigger with the current
// wall-clock minute and hands matches to the task engine; the engine runs the
// workflow action with a bounded timeout. Reconfiguration swaps the whole
// table atomically.
package scheduler
