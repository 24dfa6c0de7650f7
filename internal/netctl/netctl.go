// Package netctl holds the one piece of deliberate global process state
// spec.md §5 calls for: a "block socket activity" flag that causes every
// socket read/write/connect path in the module to abort promptly instead
// of blocking further.
package netctl

import "sync/atomic"

var blockActivity atomic.Bool

// SetBlockActivity sets or clears the block-activity flag. Setting it
// during a connect/read/write causes the current operation to return an
// error instead of blocking (spec.md §5 "Cancellation").
func SetBlockActivity(block bool) { blockActivity.Store(block) }

// ActivityBlocked reports the current state of the flag.
func ActivityBlocked() bool { return blockActivity.Load() }
