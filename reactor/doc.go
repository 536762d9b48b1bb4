// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the cross-platform event-descriptor backend for
// the worker's wakeup multiplexer: a single pollable object that
// aggregates many registered file descriptors / handles and reports which
// ones became ready. Linux uses epoll, Windows uses IOCP, other platforms
// get a portable channel-based stub.
package reactor
