package worker

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Signal sends sig to the wrapper's entire process group (dispatch.Spawn
// starts the wrapper with Setpgid, making it the group leader, so a group
// signal reaches every descendant that stays in the group). This is the
// supervisor side of hang detection; the wrapper script's own EXIT trap
// performs a recursive descendant kill for its own cleanup path.
func Signal(pid int, sig syscall.Signal) error {
	if err := unix.Kill(-pid, sig); err != nil {
		return fmt.Errorf("signalling process group %d: %w", pid, err)
	}
	return nil
}

// KillHung signals TERM to the wrapper's process group, waits grace for a
// clean exit, then escalates to KILL for stragglers -- the same TERM-then-
// KILL pattern the wrapper script itself uses on its own EXIT trap.
func KillHung(pid int, grace time.Duration, stillAlive func(pid int) bool) error {
	if err := Signal(pid, syscall.SIGTERM); err != nil {
		return err
	}
	time.Sleep(grace)
	if stillAlive != nil && stillAlive(pid) {
		return Signal(pid, syscall.SIGKILL)
	}
	return nil
}

// ProcessAlive reports whether pid refers to a live process, via signal 0.
func ProcessAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
