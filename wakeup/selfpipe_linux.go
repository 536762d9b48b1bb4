//go:build linux

// File: wakeup/selfpipe_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux self-pipe backed by a non-blocking eventfd, avoiding the classic
// two-fd pipe(2) pair since eventfd(2) already coalesces repeated writes.

package wakeup

import "golang.org/x/sys/unix"

type selfPipe struct {
	fd int
}

func newSelfPipe() (*selfPipe, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &selfPipe{fd: fd}, nil
}

func (p *selfPipe) FD() uintptr { return uintptr(p.fd) }

// Signal writes one count to the eventfd. EAGAIN means a signal is
// already pending and is not an error.
func (p *selfPipe) Signal() error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(p.fd, buf)
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Drain performs non-blocking reads until EAGAIN.
func (p *selfPipe) Drain() {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(p.fd, buf)
		if err != nil {
			return
		}
	}
}

func (p *selfPipe) Close() error {
	return unix.Close(p.fd)
}
