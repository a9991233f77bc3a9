// Package eventloop implements the reactor core of the networking runtime:
// a readiness poller, a single-threaded cooperative [Loop] bound to it, and
// an [EventLoopGroup] that fans connections out across a fixed pool of loops.
//
// # Architecture
//
// Each [Loop] owns exactly one platform poller (epoll on Linux, kqueue on
// Darwin/BSD), one FIFO task queue, and a delay-ordered scheduled-task heap.
// The loop alternates between servicing I/O readiness and draining its task
// queues according to a configurable I/O-ratio budget (see [WithIORatio]).
// All channel state owned by a loop is only ever mutated on that loop's
// goroutine; cross-thread calls are routed through [Loop.Submit] /
// [Loop.Schedule], the sole externally-visible synchronization primitive
// the loop exposes.
//
// # Platform support
//
// I/O polling uses platform-native readiness mechanisms:
//   - Linux: epoll
//   - Darwin/BSD: kqueue
//   - Windows: an I/O completion port (IOCP)
//
// File descriptor operations ([Loop.RegisterFD], [Loop.UnregisterFD],
// [Loop.ModifyFD]) present a uniform readiness contract across platforms.
//
// # Thread safety
//
// [Loop.Submit] and [Loop.Schedule] are safe to call from any goroutine.
// Everything else reachable from a channel or pipeline handler is expected
// to run only on the owning loop's goroutine; [Loop.InEventLoop] lets
// callers confirm this before taking an unsynchronized shortcut.
//
// # Execution cycle
//
// Per tick, the loop:
//
//  1. Blocks in the poller if no task is pending and no scheduled task is
//     due, with the timeout derived from the nearest scheduled deadline.
//  2. Dispatches the returned readiness batch to the owning channel of each
//     ready file descriptor.
//  3. Moves due scheduled tasks into the FIFO, then drains the FIFO for up
//     to t_io*(100-ratio)/ratio milliseconds, where t_io is how long step 2
//     took and ratio is the loop's IORatio (100 drains everything).
package eventloop
