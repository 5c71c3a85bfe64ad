//go:build linux

package taskloop

import (
	"golang.org/x/sys/unix"
)

// poller multiplexes descriptor readiness using epoll.
//
// Every method runs on the loop goroutine; the scheduler is the sole owner
// of the registration table, so no locking is needed here.
type poller struct {
	epfd     int
	eventBuf [256]unix.EpollEvent
	fds      []fdInfo // indexed by descriptor, grows on demand
	closed   bool
}

// Init creates the epoll instance.
func (p *poller) Init() error {
	if p.closed {
		return ErrPollerClosed
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.fds = make([]fdInfo, maxFDs)

	return nil
}

// Close closes the epoll instance. Idempotent.
func (p *poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.epfd > 0 {
		return unix.Close(p.epfd)
	}
	return nil
}

// RegisterFD registers a descriptor for the given interest. A descriptor may
// be registered once; use ModifyFD to change its interest set.
func (p *poller) RegisterFD(fd int, events IOEvents, cb ioCallback) error {
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}

	if fd >= len(p.fds) {
		newSize := fd*2 + 1
		if newSize > maxFDLimit {
			newSize = maxFDLimit + 1
		}
		newFds := make([]fdInfo, newSize)
		copy(newFds, p.fds)
		p.fds = newFds
	}

	if p.fds[fd].active {
		return ErrFDAlreadyRegistered
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fds[fd] = fdInfo{} // rollback
		if err == unix.EBADF {
			return ErrFDInvalid
		}
		return err
	}
	return nil
}

// UnregisterFD removes a descriptor from monitoring.
func (p *poller) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	if fd >= len(p.fds) || !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	p.fds[fd] = fdInfo{}

	// The kernel drops closed descriptors on its own; EBADF here is not
	// worth surfacing.
	return ignoringEBADF(unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

// ModifyFD replaces the interest set of a registered descriptor.
func (p *poller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	if fd >= len(p.fds) || !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	p.fds[fd].events = events

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Registered reports whether the descriptor currently has an entry.
func (p *poller) Registered(fd int) bool {
	return fd >= 0 && fd < len(p.fds) && p.fds[fd].active
}

// PollIO waits up to timeoutMs for readiness and dispatches callbacks
// inline. timeoutMs == 0 is a non-blocking poll; EINTR is treated as a
// zero-event wait. Returns the number of events dispatched.
func (p *poller) PollIO(timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.dispatchEvents(n)

	return n, nil
}

// dispatchEvents invokes the registered callback for each reported event.
func (p *poller) dispatchEvents(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= len(p.fds) {
			continue
		}

		info := p.fds[fd]
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

// ignoringEBADF filters the error of a best-effort epoll_ctl delete.
func ignoringEBADF(err error) error {
	if err == unix.EBADF {
		return nil
	}
	return err
}
