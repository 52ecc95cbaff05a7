package event

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/oceanslim/nutmint/cashu/nuts/nut04"
	"github.com/oceanslim/nutmint/cashu/nuts/nut05"
	"github.com/oceanslim/nutmint/cashu/nuts/nut07"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()

	ch1, ok := bus.Subscribe("sub-1")
	if !ok {
		t.Fatalf("expected Subscribe to succeed")
	}
	ch2, ok := bus.Subscribe("sub-2")
	if !ok {
		t.Fatalf("expected Subscribe to succeed")
	}

	bus.PublishMintQuote("quote-1", nut04.Paid)

	for name, ch := range map[string]<-chan Event{"sub-1": ch1, "sub-2": ch2} {
		select {
		case e := <-ch:
			if e.Kind != MintQuoteChanged || e.MintQuote == nil || e.MintQuote.QuoteId != "quote-1" || e.MintQuote.State != nut04.Paid {
				t.Fatalf("%s received unexpected event: %+v", name, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive the published event", name)
		}
	}
}

func TestPublishMeltQuoteAndProofState(t *testing.T) {
	bus := NewBus()
	ch, ok := bus.Subscribe("sub")
	if !ok {
		t.Fatalf("expected Subscribe to succeed")
	}

	bus.PublishMeltQuote("melt-1", nut05.Paid)
	select {
	case e := <-ch:
		if e.Kind != MeltQuoteChanged || e.MeltQuote.QuoteId != "melt-1" || e.MeltQuote.State != nut05.Paid {
			t.Fatalf("unexpected melt quote event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive melt quote event")
	}

	bus.PublishProofState(nut07.Spent, []string{"y1"}, []string{"secret1"})
	select {
	case e := <-ch:
		if e.Kind != ProofStateChanged || e.ProofState.State != nut07.Spent || len(e.ProofState.Ys) != 1 || e.ProofState.Ys[0] != "y1" {
			t.Fatalf("unexpected proof state event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive proof state event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, ok := bus.Subscribe("sub")
	if !ok {
		t.Fatalf("expected Subscribe to succeed")
	}

	bus.Unsubscribe("sub")

	if _, open := <-ch; open {
		t.Fatalf("expected channel to be closed after Unsubscribe")
	}

	bus.PublishMintQuote("quote-after-unsubscribe", nut04.Issued)
}

func TestPublishDoesNotBlockOnFullSubscriberChannel(t *testing.T) {
	bus := NewBus()
	ch, ok := bus.Subscribe("slow")
	if !ok {
		t.Fatalf("expected Subscribe to succeed")
	}

	for i := 0; i < 100; i++ {
		bus.PublishMintQuote(fmt.Sprintf("quote-%d", i), nut04.Unpaid)
	}

	drained := 0
	for {
		select {
		case _, open := <-ch:
			if !open {
				t.Fatalf("channel closed unexpectedly")
			}
			drained++
		default:
			if drained == 0 {
				t.Fatalf("expected at least one buffered event to have been delivered")
			}
			return
		}
	}
}

func TestSubscribeRejectsPastMaxSubscribers(t *testing.T) {
	bus := NewBus()

	for i := 0; i < MaxSubscribers; i++ {
		if _, ok := bus.Subscribe(fmt.Sprintf("sub-%d", i)); !ok {
			t.Fatalf("expected subscriber %d to be accepted", i)
		}
	}

	if _, ok := bus.Subscribe("one-too-many"); ok {
		t.Fatalf("expected Subscribe to reject past MaxSubscribers")
	}
}

func TestCursorStoreSaveAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")
	store, err := OpenCursorStore(path)
	if err != nil {
		t.Fatalf("OpenCursorStore: %v", err)
	}
	defer store.Close()

	if err := store.SaveCursor("sub-1", 42); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}

	sequence, err := store.LoadCursor("sub-1")
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if sequence != 42 {
		t.Fatalf("expected cursor 42, got %d", sequence)
	}
}

func TestCursorStoreLoadMissingSubscriberReturnsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")
	store, err := OpenCursorStore(path)
	if err != nil {
		t.Fatalf("OpenCursorStore: %v", err)
	}
	defer store.Close()

	sequence, err := store.LoadCursor("never-seen")
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if sequence != 0 {
		t.Fatalf("expected 0 for an unseen subscriber, got %d", sequence)
	}
}

func TestCursorStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.db")

	store, err := OpenCursorStore(path)
	if err != nil {
		t.Fatalf("OpenCursorStore: %v", err)
	}
	if err := store.SaveCursor("sub-1", 7); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenCursorStore(path)
	if err != nil {
		t.Fatalf("reopen OpenCursorStore: %v", err)
	}
	defer reopened.Close()

	sequence, err := reopened.LoadCursor("sub-1")
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if sequence != 7 {
		t.Fatalf("expected cursor to persist across reopen, got %d", sequence)
	}
}
