// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free queueing and task dispatch primitives shared by the worker's
// stub-endpoint promotion path and asynchronous AM-handler completion loop.
package concurrency
