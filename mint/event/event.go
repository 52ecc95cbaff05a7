// Package event implements the mint's subscriber fan-out: every ledger
// transition (quote state change, proof spend) is published here and
// delivered to subscribers without blocking the publisher.
package event

import (
	"encoding/json"
	"sync"

	"github.com/oceanslim/nutmint/cashu/nuts/nut04"
	"github.com/oceanslim/nutmint/cashu/nuts/nut05"
	"github.com/oceanslim/nutmint/cashu/nuts/nut07"
)

// MaxSubscribers bounds the fan-out table; past this, Subscribe rejects new
// subscribers rather than let one slow consumer hold the bus open-ended.
const MaxSubscribers = 256

// Kind distinguishes the three transition classes a subscriber can filter on.
type Kind string

const (
	MintQuoteChanged Kind = "mint_quote"
	MeltQuoteChanged Kind = "melt_quote"
	ProofStateChanged Kind = "proof_state"
)

// Event is one published transition. Exactly one of the typed payload
// fields is populated, matching Kind.
type Event struct {
	Kind       Kind              `json:"kind"`
	MintQuote  *MintQuotePayload `json:"mint_quote,omitempty"`
	MeltQuote  *MeltQuotePayload `json:"melt_quote,omitempty"`
	ProofState *ProofStatePayload `json:"proof_state,omitempty"`
}

type MintQuotePayload struct {
	QuoteId string     `json:"quote_id"`
	State   nut04.State `json:"state"`
}

type MeltQuotePayload struct {
	QuoteId string     `json:"quote_id"`
	State   nut05.State `json:"state"`
}

// ProofStatePayload reports a batch state change for the given proofs (all
// sharing the same new state), identified by their Ys and, when known, their
// secrets.
type ProofStatePayload struct {
	State   nut07.State `json:"state"`
	Ys      []string    `json:"ys"`
	Secrets []string    `json:"secrets,omitempty"`
}

func (e Event) MarshalForWire() ([]byte, error) {
	return json.Marshal(e)
}

// Bus is the process-wide event handle. Subscribers register by id and are
// removed by id; they hold no reference back into the bus's internals.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber with the given id and a bounded
// delivery channel. The caller owns draining it; Publish never blocks on a
// full channel, it drops the event for that subscriber instead.
func (b *Bus) Subscribe(id string) (<-chan Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= MaxSubscribers {
		return nil, false
	}

	ch := make(chan Event, 64)
	b.subscribers[id] = ch
	return ch, true
}

// Unsubscribe removes and closes a subscriber's channel by id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish fans an event out to every current subscriber without blocking:
// a subscriber whose channel is full misses this event rather than stalling
// the ledger operation that produced it.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Bus) PublishMintQuote(quoteId string, state nut04.State) {
	b.Publish(Event{Kind: MintQuoteChanged, MintQuote: &MintQuotePayload{QuoteId: quoteId, State: state}})
}

func (b *Bus) PublishMeltQuote(quoteId string, state nut05.State) {
	b.Publish(Event{Kind: MeltQuoteChanged, MeltQuote: &MeltQuotePayload{QuoteId: quoteId, State: state}})
}

func (b *Bus) PublishProofState(state nut07.State, ys, secrets []string) {
	b.Publish(Event{Kind: ProofStateChanged, ProofState: &ProofStatePayload{State: state, Ys: ys, Secrets: secrets}})
}
