package rsvpvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/ledger"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/store"
)

// NamespaceInstances is the store namespace holding instance snapshots,
// keyed by handle hex.
const NamespaceInstances = "instances"

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the persisted form of an instance.
type Snapshot struct {
	Version        int            `json:"version"`
	Handle         common.Address `json:"handle"`
	Sequence       uint64         `json:"sequence"`
	Implementation string         `json:"implementation"`
	SavedAt        time.Time      `json:"saved_at"`
	State          State          `json:"state"`
}

// LoadSnapshot reads and decodes the snapshot of handle.
func LoadSnapshot(ctx context.Context, st store.Store, handle common.Address) (Snapshot, error) {
	data, err := st.Load(ctx, NamespaceInstances, handle.Hex())
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, rverrors.Newf(rverrors.KindNotFound, "restore", "no snapshot for %s", handle.Hex())
	}
	if err != nil {
		return Snapshot{}, rverrors.Internal("restore", "load snapshot", err)
	}
	return DecodeSnapshot(data)
}

// DecodeSnapshot parses and validates a snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, rverrors.Internal("restore", "decode snapshot", err)
	}
	if snap.Version != SnapshotVersion {
		return Snapshot{}, rverrors.Internal("restore", fmt.Sprintf("unsupported snapshot version %d", snap.Version), nil)
	}
	if !snap.State.Initialized() || snap.State.InitVersion == InitDisabled || snap.State.Access == nil {
		return Snapshot{}, rverrors.Internal("restore", "snapshot holds uninitialized storage", nil)
	}
	return snap, nil
}

// RestoreInstance rebuilds an instance from its persisted snapshot. The
// restored instance keeps persisting to the store it was loaded from.
func RestoreInstance(
	ctx context.Context,
	st store.Store,
	handle common.Address,
	source ImplementationSource,
	rail ledger.Transferrer,
	opts ...Option,
) (*Instance, error) {
	snap, err := LoadSnapshot(ctx, st, handle)
	if err != nil {
		return nil, err
	}
	if snap.Handle != handle {
		return nil, rverrors.Internal("restore", "snapshot handle mismatch", nil)
	}

	inst, err := NewInstance(handle, source, rail, append(opts, WithStore(st))...)
	if err != nil {
		return nil, err
	}
	inst.state = snap.State
	inst.sequence = snap.Sequence
	return inst, nil
}

func (in *Instance) encodeSnapshot() ([]byte, error) {
	version := ""
	if impl := in.source.Implementation(); impl != nil {
		version = impl.Version()
	}
	return json.Marshal(Snapshot{
		Version:        SnapshotVersion,
		Handle:         in.handle,
		Sequence:       in.sequence,
		Implementation: version,
		SavedAt:        in.cfg.clock.Now(),
		State:          in.state,
	})
}

// persist writes the current state. Callers hold the write lock.
func (in *Instance) persist(ctx context.Context) error {
	if in.cfg.store == nil {
		return nil
	}
	in.sequence++
	data, err := in.encodeSnapshot()
	if err == nil {
		err = in.cfg.store.Save(ctx, NamespaceInstances, in.handle.Hex(), data)
	}
	if err != nil {
		in.sequence--
		return err
	}
	return nil
}
