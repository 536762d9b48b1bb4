//go:build !linux

// File: wakeup/selfpipe_other.go
// Author: momentics <momentics@gmail.com>
//
// Portable self-pipe for non-Linux platforms, backed by a plain OS pipe.

package wakeup

import (
	"os"
	"time"
)

type selfPipe struct {
	r, w *os.File
}

func newSelfPipe() (*selfPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &selfPipe{r: r, w: w}, nil
}

func (p *selfPipe) FD() uintptr { return p.r.Fd() }

// Signal writes one byte to the pipe. A full pipe buffer (a prior signal
// still pending) is not an error.
func (p *selfPipe) Signal() error {
	p.w.SetWriteDeadline(time.Now().Add(time.Millisecond))
	_, err := p.w.Write([]byte{1})
	if os.IsTimeout(err) {
		return nil
	}
	return err
}

// Drain performs reads with a near-zero deadline until one times out,
// approximating the non-blocking EAGAIN-until-drained loop of the Linux
// eventfd implementation.
func (p *selfPipe) Drain() {
	buf := make([]byte, 64)
	for {
		p.r.SetReadDeadline(time.Now().Add(time.Millisecond))
		if _, err := p.r.Read(buf); err != nil {
			return
		}
	}
}

func (p *selfPipe) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
