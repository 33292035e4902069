package client

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedRR is Linux's SCHED_RR policy number (sched.h); golang.org/x/sys/unix
// does not export a named constant for it in every build, so it is spelled
// out here.
const schedRR = 2

type schedParam struct {
	Priority int32
}

// raisePriority asks the kernel to schedule the calling OS thread under
// SCHED_RR at prio (spec §4.3: "raise the task to a real-time class when
// possible... via a pluggable priority hook; failure... is non-fatal").
// Go's runtime multiplexes goroutines onto OS threads, so this affects
// whichever thread happens to be running the audio task's goroutine at the
// time of the call; callers that need a guarantee should pin with
// runtime.LockOSThread first.
func raisePriority(prio int) {
	param := schedParam{Priority: int32(prio)}
	unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(schedRR), uintptr(unsafe.Pointer(&param)))
	// Errors are intentionally ignored: raising priority is best-effort and
	// commonly fails under an unprivileged test/dev user.
}

// PriorityHook lets host integrations substitute a different real-time
// promotion strategy (e.g. a platform-specific nice call) for the default
// SCHED_RR hook, per spec §4.3's "pluggable priority hook".
type PriorityHook func(prio int)

// defaultPriorityHook is raisePriority, exposed as a PriorityHook value.
var defaultPriorityHook PriorityHook = raisePriority
