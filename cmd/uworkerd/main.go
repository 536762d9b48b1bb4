// File: cmd/uworkerd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// uworkerd runs a single worker bound to one loopback transport
// interface, counting every active message it receives and printing the
// message and byte rates once a second. Demonstrates the package's
// construction, progress-loop, and signal-driven shutdown conventions.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/atomicsel"
	"github.com/momentics/uworker/capability"
	"github.com/momentics/uworker/reftransport"
	"github.com/momentics/uworker/transport"
	"github.com/momentics/uworker/worker"
)

func main() {
	addr := flag.String("addr", "uworkerd-0", "loopback interface address")
	flag.Parse()

	var amCount, byteCount int64

	handlerRec := ammsg.HandlerRecord{
		Features: capability.FlagAMShort,
		Mode:     ammsg.Sync,
		Handler: func(_ any, desc *ammsg.Descriptor) ammsg.Disposition {
			atomic.AddInt64(&amCount, 1)
			atomic.AddInt64(&byteCount, int64(len(desc.Data())))
			return ammsg.OK
		},
	}
	dispatch := ammsg.NewTable([]ammsg.HandlerRecord{handlerRec})

	rec := capability.Record{
		Flags:     capability.FlagAMShort | capability.FlagAMSyncCallback | capability.FlagWakeup,
		Bandwidth: 1e9,
		Overhead:  1e-6,
	}
	tr := reftransport.New(*addr, rec, 8)

	ctx := worker.NewContext(
		[]capability.ResourceDescriptor{{RscIndex: 0, Transport: "loopback"}},
		[]transport.Interface{tr},
		dispatch,
		capability.FlagAMShort,
		atomicsel.CPU,
	)

	w, err := worker.Create(ctx, worker.Params{ThreadMode: worker.Single})
	if err != nil {
		log.Fatalf("worker.Create: %v", err)
	}

	w.RegisterDebugProbe("am_count", func() any { return atomic.LoadInt64(&amCount) })
	w.RegisterDebugProbe("byte_count", func() any { return atomic.LoadInt64(&byteCount) })

	published, err := w.GetAddress()
	if err != nil {
		log.Fatalf("GetAddress: %v", err)
	}
	log.Printf("worker %s listening at %q (address blob %d bytes)", w.Name(), *addr, len(published))

	shutdownCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCh:
				return
			case <-ticker.C:
				ams := atomic.SwapInt64(&amCount, 0)
				bytes := atomic.SwapInt64(&byteCount, 0)
				fmt.Printf("AM/s=%d Bytes/s=%d\n", ams, bytes)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-shutdownCh:
				return
			default:
			}
			if err := w.Wait(); err != nil {
				log.Printf("Wait: %v", err)
				continue
			}
			w.Progress()
		}
	}()

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
	log.Println("shutdown signal received")

	close(shutdownCh)
	w.Signal() // unblock a pending Wait

	if err := w.ReleaseAddress(published); err != nil {
		log.Printf("ReleaseAddress: %v", err)
	}
	w.Destroy()
	log.Println("worker shutdown complete")
}
