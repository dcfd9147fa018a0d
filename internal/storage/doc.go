// Package storage persists the small amount of state promptclock keeps
// outside the schedule file:
//   - rotation seed dates, one per text source
//   - an append-only audit of workflow invocations
package storage
