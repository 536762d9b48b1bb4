package reftransport_test

import (
	"testing"

	"github.com/momentics/uworker/ammsg"
	"github.com/momentics/uworker/capability"
	"github.com/momentics/uworker/reftransport"
)

func TestSendAMAndProgressDispatches(t *testing.T) {
	rx := reftransport.New("rx-addr", capability.Record{Flags: capability.FlagAMBcopy}, 8)
	defer rx.Close()
	tx := reftransport.New("tx-addr", capability.Record{Flags: capability.FlagAMBcopy}, 8)
	defer tx.Close()

	var got string
	rx.InstallHandler(1, ammsg.HandlerRecord{
		Features: capability.FlagAMBcopy,
		Mode:     ammsg.Sync,
		Handler: func(_ any, desc *ammsg.Descriptor) ammsg.Disposition {
			got = string(desc.Data())
			return ammsg.OK
		},
	})

	ep, err := tx.NewEndpoint([]byte("rx-addr"))
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	refEP := ep.(*reftransport.Endpoint)
	if err := refEP.SendAM(1, []byte("hello")); err != nil {
		t.Fatalf("SendAM: %v", err)
	}

	n := rx.Progress()
	if n != 1 {
		t.Fatalf("expected 1 frame drained, got %d", n)
	}
	if got != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", got)
	}
}

func TestInProgressLeavesRxSlotOutstanding(t *testing.T) {
	rx := reftransport.New("rx-addr-2", capability.Record{Flags: capability.FlagAMBcopy}, 8)
	defer rx.Close()
	tx := reftransport.New("tx-addr-2", capability.Record{Flags: capability.FlagAMBcopy}, 8)
	defer tx.Close()

	var held *ammsg.Descriptor
	rx.InstallHandler(2, ammsg.HandlerRecord{
		Features: capability.FlagAMBcopy,
		Mode:     ammsg.Sync,
		Handler: func(_ any, desc *ammsg.Descriptor) ammsg.Disposition {
			held = desc
			return ammsg.InProgress
		},
	})

	ep, _ := tx.NewEndpoint([]byte("rx-addr-2"))
	refEP := ep.(*reftransport.Endpoint)
	refEP.SendAM(2, []byte("payload"))
	rx.Progress()

	inUse, released := rx.RxPoolStats()
	if inUse != 1 || released != 0 {
		t.Fatalf("expected 1 in-use / 0 released before Release, got %d/%d", inUse, released)
	}
	held.Release()
	_, released = rx.RxPoolStats()
	if released != 1 {
		t.Fatalf("expected 1 released after Release, got %d", released)
	}
}

func TestWakeupArmBusyOnPending(t *testing.T) {
	rx := reftransport.New("rx-addr-3", capability.Record{Flags: capability.FlagWakeup}, 8)
	defer rx.Close()
	tx := reftransport.New("tx-addr-3", capability.Record{Flags: capability.FlagAMBcopy}, 8)
	defer tx.Close()

	wh, err := rx.OpenWakeup()
	if err != nil {
		t.Fatalf("OpenWakeup: %v", err)
	}
	pending, _ := wh.Arm(0)
	if pending {
		t.Fatal("did not expect pending events before any send")
	}

	ep, _ := tx.NewEndpoint([]byte("rx-addr-3"))
	ep.(*reftransport.Endpoint).SendAM(1, []byte("x"))

	pending, _ = wh.Arm(0)
	if !pending {
		t.Fatal("expected pending events after a send")
	}
}
