// Package audit implements AuditLog (C9): an append-only, sequence-ordered
// record of every accepted state transition, digested with keccak256 over
// the canonical serialization of the affected records, the same hash the
// parent chain uses for its swap price proofs and voucher signing
// (native/swap/oracle_verify.go).
package audit

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
)

// Entry is one append-only audit record.
type Entry struct {
	Seq           uint64
	Timestamp     uint64
	Actor         types.Address
	IntentID      [16]byte
	Operation     string
	BeforeDigest  [32]byte
	AfterDigest   [32]byte
}

// Digest hashes the canonical serialization of a reserve and its live
// positions; the result is used as an Entry's BeforeDigest/AfterDigest so an
// external auditor can independently verify any transition.
func Digest(r *types.Reserve, supply []*types.SupplyPosition, debts []*types.DebtPosition) [32]byte {
	var buf []byte
	if r != nil {
		buf = append(buf, types.EncodeReserve(r)...)
	}
	for _, p := range supply {
		buf = append(buf, types.EncodeSupplyPosition(p)...)
	}
	for _, d := range debts {
		buf = append(buf, types.EncodeDebtPosition(d)...)
	}
	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// Encode serializes an Entry in the canonical fixed-width/length-prefixed
// format used for Store persistence.
func Encode(e Entry) []byte {
	actorBytes := e.Actor.Bytes()
	if len(actorBytes) != 20 {
		actorBytes = make([]byte, 20)
	}
	buf := make([]byte, 0, 8+8+20+16+4+len(e.Operation)+32+32)
	var seq, ts [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Seq)
	binary.BigEndian.PutUint64(ts[:], e.Timestamp)
	buf = append(buf, seq[:]...)
	buf = append(buf, ts[:]...)
	buf = append(buf, actorBytes...)
	buf = append(buf, e.IntentID[:]...)
	var opLen [4]byte
	binary.BigEndian.PutUint32(opLen[:], uint32(len(e.Operation)))
	buf = append(buf, opLen[:]...)
	buf = append(buf, []byte(e.Operation)...)
	buf = append(buf, e.BeforeDigest[:]...)
	buf = append(buf, e.AfterDigest[:]...)
	return buf
}

// Decode parses the canonical encoding produced by Encode.
func Decode(data []byte) (Entry, error) {
	var e Entry
	off := 0
	e.Seq = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	e.Timestamp = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	actor, err := types.NewAddressFromBytes(data[off : off+20])
	if err != nil {
		return Entry{}, err
	}
	e.Actor = actor
	off += 20
	copy(e.IntentID[:], data[off:off+16])
	off += 16
	opLen := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	e.Operation = string(data[off : off+int(opLen)])
	off += int(opLen)
	copy(e.BeforeDigest[:], data[off:off+32])
	off += 32
	copy(e.AfterDigest[:], data[off:off+32])
	return e, nil
}

// Log appends entries to a Store under ascending sequence-numbered keys and
// tracks the next sequence number in memory (recovered on startup by a
// caller scanning the audit/ key range, not implemented here since the
// storage driver itself is an external collaborator). The sequence counter
// is shared across every reserve's commits, so it guards itself with a
// mutex independent of the coordinator's per-reserve locks.
type Log struct {
	mu      sync.Mutex
	nextSeq uint64
}

// NewLog constructs a Log starting at startSeq (the sequence number one past
// the highest entry already committed to the Store).
func NewLog(startSeq uint64) *Log {
	return &Log{nextSeq: startSeq}
}

// Append writes a new entry within tx, stamping it with the next sequence
// number, and returns the staged Entry. The sequence number is consumed even
// if the caller's subsequent tx.Commit fails, so sequence numbers are unique
// and monotonic but not guaranteed gapless.
func (l *Log) Append(ctx context.Context, tx types.Tx, actor types.Address, intentID [16]byte, operation string, timestamp uint64, before, after [32]byte) (Entry, error) {
	l.mu.Lock()
	seq := l.nextSeq
	l.nextSeq++
	l.mu.Unlock()

	entry := Entry{
		Seq:          seq,
		Timestamp:    timestamp,
		Actor:        actor,
		IntentID:     intentID,
		Operation:    operation,
		BeforeDigest: before,
		AfterDigest:  after,
	}
	if err := tx.Put(ctx, types.AuditKey(entry.Seq), Encode(entry)); err != nil {
		return Entry{}, types.E(types.KindConflict, "audit.Append", err)
	}
	return entry, nil
}
