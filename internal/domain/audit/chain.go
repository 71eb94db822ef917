package audit

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Events of one request form a hash chain: each event commits to the hash of
// the previous event of the same request. Chains are per request so sealing
// only needs the per-request serialization the engine already holds.

var ErrChainBroken = errors.New("audit chain broken")

// ChainError locates the first event that fails verification.
type ChainError struct {
	Seq    int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Reason)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// sealedFields is the hashed projection of an Event. Seq is excluded because
// the store assigns it after sealing.
type sealedFields struct {
	ID         string `cbor:"id"`
	RequestID  string `cbor:"rid"`
	Type       string `cbor:"type"`
	Actor      string `cbor:"actor"`
	Requester  string `cbor:"req"`
	Patient    string `cbor:"pat"`
	DataType   string `cbor:"dt"`
	Purpose    string `cbor:"purpose"`
	FromStatus string `cbor:"from"`
	ToStatus   string `cbor:"to"`
	Outcome    string `cbor:"outcome"`
	At         int64  `cbor:"at"`
	ExpiresAt  int64  `cbor:"exp"`
	PrevHash   []byte `cbor:"prev"`
}

// Normalize truncates timestamps to the microsecond precision every store
// can round-trip, so hashes stay verifiable after a reload.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

// Seal links e to prev and computes its hash.
func Seal(prev []byte, e Event) (Event, error) {
	e.At = Normalize(e.At)
	e.ExpiresAt = Normalize(e.ExpiresAt)
	e.PrevHash = append([]byte(nil), prev...)

	sum, err := digest(e)
	if err != nil {
		return Event{}, err
	}
	e.Hash = sum
	return e, nil
}

// VerifyChain checks events of a single request, in append order.
func VerifyChain(events []Event) error {
	var prev []byte
	for i, e := range events {
		if i > 0 && e.RequestID != events[0].RequestID {
			return &ChainError{Seq: e.Seq, Reason: "mixed request ids"}
		}
		if !bytes.Equal(e.PrevHash, prev) {
			return &ChainError{Seq: e.Seq, Reason: "previous hash mismatch"}
		}
		sum, err := digest(e)
		if err != nil {
			return err
		}
		if !bytes.Equal(sum, e.Hash) {
			return &ChainError{Seq: e.Seq, Reason: "content hash mismatch"}
		}
		prev = e.Hash
	}
	return nil
}

func digest(e Event) ([]byte, error) {
	var expires int64
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt.UnixMicro()
	}
	var prev []byte
	if len(e.PrevHash) > 0 {
		prev = e.PrevHash
	}
	b, err := encMode.Marshal(sealedFields{
		ID:         e.ID,
		RequestID:  e.RequestID,
		Type:       string(e.Type),
		Actor:      e.Actor,
		Requester:  e.Requester,
		Patient:    e.Patient,
		DataType:   e.DataType,
		Purpose:    e.Purpose,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Outcome:    e.Outcome,
		At:         e.At.UnixMicro(),
		ExpiresAt:  expires,
		PrevHash:   prev,
	})
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	sum := blake3.Sum256(b)
	return sum[:], nil
}
