package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

const (
	checkpointKey     = "checkpoint/latest"
	checkpointVersion = 1
)

var (
	ErrDigestMismatch     = errors.New("storage: checkpoint digest mismatch")
	ErrUnsupportedVersion = errors.New("storage: unsupported checkpoint version")
)

// Checkpoint describes the most recent committed snapshot. Payload is the
// RLP encoding of the caller's state and Digest its blake3 hash.
type Checkpoint struct {
	Version  uint64
	Sequence uint64
	Name     string
	Written  uint64
	Payload  []byte
	Digest   [32]byte
}

// CheckpointStore writes and reads the latest checkpoint.
type CheckpointStore struct {
	db Database
}

func NewCheckpointStore(db Database) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Save encodes state and stores it as the checkpoint following seq. name
// records the transaction that produced it.
func (s *CheckpointStore) Save(seq uint64, name string, at time.Time, state any) (*Checkpoint, error) {
	payload, err := rlp.EncodeToBytes(state)
	if err != nil {
		return nil, fmt.Errorf("storage: encode checkpoint: %w", err)
	}
	cp := &Checkpoint{
		Version:  checkpointVersion,
		Sequence: seq,
		Name:     name,
		Written:  uint64(at.Unix()),
		Payload:  payload,
		Digest:   blake3.Sum256(payload),
	}
	encoded, err := rlp.EncodeToBytes(cp)
	if err != nil {
		return nil, fmt.Errorf("storage: encode checkpoint: %w", err)
	}
	if err := s.db.Put([]byte(checkpointKey), encoded); err != nil {
		return nil, fmt.Errorf("storage: write checkpoint: %w", err)
	}
	return cp, nil
}

// Load returns the latest checkpoint after checking its digest. When out is
// non-nil the payload is decoded into it. A store that never saw a commit
// returns ErrNotFound.
func (s *CheckpointStore) Load(out any) (*Checkpoint, error) {
	raw, err := s.db.Get([]byte(checkpointKey))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := rlp.DecodeBytes(raw, &cp); err != nil {
		return nil, fmt.Errorf("storage: decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cp.Version)
	}
	if blake3.Sum256(cp.Payload) != cp.Digest {
		return nil, fmt.Errorf("%w at sequence %d", ErrDigestMismatch, cp.Sequence)
	}
	if out != nil {
		if err := rlp.DecodeBytes(cp.Payload, out); err != nil {
			return nil, fmt.Errorf("storage: decode checkpoint payload: %w", err)
		}
	}
	return &cp, nil
}
