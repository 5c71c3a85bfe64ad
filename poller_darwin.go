//go:build darwin

package taskloop

import (
	"golang.org/x/sys/unix"
)

// poller multiplexes descriptor readiness using kqueue.
//
// Every method runs on the loop goroutine; the scheduler is the sole owner
// of the registration table, so no locking is needed here.
type poller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	fds      []fdInfo // indexed by descriptor, grows on demand
	closed   bool
}

// Init creates the kqueue instance.
func (p *poller) Init() error {
	if p.closed {
		return ErrPollerClosed
	}

	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.fds = make([]fdInfo, maxFDs)

	return nil
}

// Close closes the kqueue instance. Idempotent.
func (p *poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.kq > 0 {
		return unix.Close(p.kq)
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

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			p.fds[fd] = fdInfo{} // rollback
			if err == unix.EBADF {
				return ErrFDInvalid
			}
			return err
		}
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

	events := p.fds[fd].events
	p.fds[fd] = fdInfo{}

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		// Closed descriptors fall out of the kqueue on their own.
		unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

// ModifyFD replaces the interest set of a registered descriptor.
func (p *poller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	if fd >= len(p.fds) || !p.fds[fd].active {
		return ErrFDNotRegistered
	}

	oldEvents := p.fds[fd].events
	p.fds[fd].events = events

	if removed := oldEvents &^ events; removed != 0 {
		delKevents := eventsToKevents(fd, removed, unix.EV_DELETE)
		if len(delKevents) > 0 {
			unix.Kevent(p.kq, delKevents, nil, nil)
		}
	}

	if added := events &^ oldEvents; added != 0 {
		addKevents := eventsToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE)
		if len(addKevents) > 0 {
			if _, err := unix.Kevent(p.kq, addKevents, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
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

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
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
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 || fd >= len(p.fds) {
			continue
		}

		info := p.fds[fd]
		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
		}
	}
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t

	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}

	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}

	return kevents
}

// keventToEvents converts a kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
