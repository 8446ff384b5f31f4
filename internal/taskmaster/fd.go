package taskmaster

import "syscall"

// rawFD extracts the raw descriptor behind anything exposing
// SyscallConn (net.Conn implementations, *net.UnixListener) without
// duplicating it, so it can be registered with the PollSet for
// readiness notification. The descriptor is never read or written
// directly — all I/O still goes through the original conn/listener;
// Poll only tells the Reactor when a read or accept would not block.
func rawFD(sc syscall.Conn) int {
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	_ = raw.Control(func(p uintptr) {
		fd = int(p)
	})
	return fd
}

