// Package factory creates event instances and owns the beacon they share.
//
// Instances get either a sequential handle derived from the factory address
// and a nonce, or a deterministic handle derived from the creator, a salt,
// and the creation arguments, which PredictAddress computes ahead of time.
// The factory's owner is the only identity that can swap the shared
// implementation.
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/beacon"
	rverrors "github.com/randalmurphal/rsvpvault/pkg/rsvpvault/errors"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/event"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/ledger"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/observability"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/registry"
	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/store"
)

// Operation names.
const (
	OpCreate    = "create_instance"
	OpCreateDet = "create_instance_deterministic"
	OpUpgrade   = "upgrade_implementation"
	opRestore   = "restore_factory"
)

// NamespaceRecord is the store namespace of the factory record.
const NamespaceRecord = "factory"

const (
	recordKey     = "state"
	recordVersion = 1
)

// record is the persisted form of a factory.
type record struct {
	Version        int              `json:"version"`
	Owner          common.Address   `json:"owner"`
	Address        common.Address   `json:"address"`
	Nonce          uint64           `json:"nonce"`
	Implementation string           `json:"implementation"`
	Instances      []common.Address `json:"instances"`
}

// Factory creates instances, tracks every instance it ever created, and
// controls the shared implementation.
type Factory struct {
	owner   common.Address
	address common.Address
	beacon  *beacon.Beacon
	rail    ledger.Transferrer
	cfg     factoryConfig

	mu        sync.Mutex
	nonce     uint64
	instances *registry.Registry[common.Address, *rsvpvault.Instance]
}

// New creates a factory owned by owner. Instances move value on rail.
func New(owner common.Address, rail ledger.Transferrer, opts ...Option) (*Factory, error) {
	if owner == (common.Address{}) {
		return nil, rverrors.InvalidArgument("factory", "owner must not be the zero address")
	}
	if rail == nil {
		return nil, rverrors.InvalidArgument("factory", "value rail is required")
	}

	cfg := defaultFactoryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.settings.Validate(); err != nil {
		return nil, rverrors.Wrap(rverrors.KindInvalidArgument, "factory", "invalid settings", err)
	}
	if cfg.address == (common.Address{}) {
		cfg.address = crypto.CreateAddress(owner, 0)
	}
	if cfg.impl == nil {
		impl, err := rsvpvault.NewImplementation(rsvpvault.StandardLogic{
			MaxMetadataLength: cfg.settings.MaxMetadataLength,
		})
		if err != nil {
			return nil, err
		}
		cfg.impl = impl
	}

	b, err := beacon.New(cfg.address, cfg.impl)
	if err != nil {
		return nil, err
	}

	cfg.logger = cfg.logger.With(slog.String("factory", cfg.address.Hex()))
	return &Factory{
		owner:     owner,
		address:   cfg.address,
		beacon:    b,
		rail:      rail,
		cfg:       cfg,
		instances: registry.New[common.Address, *rsvpvault.Instance](),
	}, nil
}

// Owner returns the factory owner.
func (f *Factory) Owner() common.Address { return f.owner }

// Address returns the base address every handle is derived from.
func (f *Factory) Address() common.Address { return f.address }

// Beacon returns the beacon shared by every instance.
func (f *Factory) Beacon() *beacon.Beacon { return f.beacon }

// Implementation returns the implementation currently in effect.
func (f *Factory) Implementation() *rsvpvault.Implementation {
	return f.beacon.Implementation()
}

// Nonce returns the number of sequential instances created so far.
func (f *Factory) Nonce() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce
}

// Instances returns every instance handle in creation order.
func (f *Factory) Instances() []common.Address {
	return f.instances.Keys()
}

// Instance returns the instance at handle.
func (f *Factory) Instance(handle common.Address) (*rsvpvault.Instance, bool) {
	return f.instances.Get(handle)
}

// Len returns the number of instances created.
func (f *Factory) Len() int {
	return f.instances.Len()
}

// CreateInstance creates an instance at the next sequential handle, owned by
// caller. Zero-valued params fall back to the configured defaults.
func (f *Factory) CreateInstance(ctx context.Context, caller common.Address, p rsvpvault.Params) (*rsvpvault.Instance, error) {
	var inst *rsvpvault.Instance
	err := f.observe(ctx, OpCreate, caller, func(ctx context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()

		p = f.withDefaults(p)
		nonce := f.nonce + 1
		var err error
		inst, err = f.create(ctx, OpCreate, caller, p, sequentialHandle(f.address, nonce), func() { f.nonce = nonce })
		return err
	})
	if err != nil {
		return nil, err
	}
	f.created(ctx, inst, caller, p, false, common.Hash{})
	return inst, nil
}

// CreateInstanceDeterministic creates an instance at the handle
// PredictAddress returns for the same arguments. Repeating a creation fails
// with AlreadyExists and leaves the first instance untouched.
func (f *Factory) CreateInstanceDeterministic(ctx context.Context, caller common.Address, p rsvpvault.Params, salt common.Hash) (*rsvpvault.Instance, error) {
	var inst *rsvpvault.Instance
	err := f.observe(ctx, OpCreateDet, caller, func(ctx context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()

		p = f.withDefaults(p)
		var err error
		inst, err = f.create(ctx, OpCreateDet, caller, p, deterministicHandle(f.address, caller, p, salt), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.created(ctx, inst, caller, p, true, salt)
	return inst, nil
}

// PredictAddress returns the handle CreateInstanceDeterministic would use.
func (f *Factory) PredictAddress(caller common.Address, p rsvpvault.Params, salt common.Hash) common.Address {
	return deterministicHandle(f.address, caller, f.withDefaults(p), salt)
}

// create allocates, initializes, and indexes one instance. Callers hold f.mu.
// commit runs only once the instance is initialized, and is undone if the
// factory record cannot be written.
func (f *Factory) create(
	ctx context.Context,
	op string,
	caller common.Address,
	p rsvpvault.Params,
	handle common.Address,
	commit func(),
) (*rsvpvault.Instance, error) {
	if caller == (common.Address{}) {
		return nil, rverrors.InvalidArgument(op, "creator must not be the zero address")
	}
	if f.instances.Has(handle) {
		return nil, rverrors.Newf(rverrors.KindAlreadyExists, op, "an instance already exists at %s", handle.Hex())
	}

	inst, err := rsvpvault.NewInstance(handle, f.beacon, f.rail, f.cfg.instanceOptions()...)
	if err != nil {
		return nil, err
	}
	if err := inst.Initialize(ctx, caller, p); err != nil {
		return nil, err
	}

	prevNonce := f.nonce
	if commit != nil {
		commit()
	}
	f.instances.Add(handle, inst)

	if err := f.persist(ctx); err != nil {
		f.instances.Remove(handle)
		f.nonce = prevNonce
		observability.LogPersistError(f.cfg.logger, op, err)
		return nil, rverrors.Internal(op, "persist factory record", err)
	}
	return inst, nil
}

func (f *Factory) created(ctx context.Context, inst *rsvpvault.Instance, caller common.Address, p rsvpvault.Params, deterministic bool, salt common.Hash) {
	snap := inst.Snapshot()
	observability.LogInstanceCreated(f.cfg.logger, inst.Handle(), caller, deterministic)
	f.cfg.metrics.RecordInstanceCreated(ctx, deterministic)
	f.publish(ctx, event.New(event.TypeInstanceCreated, inst.Handle(), caller, event.InstanceCreated{
		Handle:        inst.Handle(),
		Owner:         caller,
		Name:          snap.Name,
		Deposit:       snap.Deposit,
		Limit:         snap.Limit,
		CoolingPeriod: int64(p.CoolingPeriod / time.Second),
		Deterministic: deterministic,
		Salt:          salt,
	}))
}

// UpgradeImplementation swaps the implementation for every existing and
// future instance. Only the factory owner may call it.
func (f *Factory) UpgradeImplementation(ctx context.Context, caller common.Address, impl *rsvpvault.Implementation) error {
	var prev *rsvpvault.Implementation
	err := f.observe(ctx, OpUpgrade, caller, func(ctx context.Context) error {
		if caller != f.owner {
			return rverrors.Unauthorized(OpUpgrade, "only the factory owner can upgrade")
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		var err error
		prev, err = f.beacon.Upgrade(f.address, impl)
		if err != nil {
			return err
		}
		if err := f.persist(ctx); err != nil {
			if _, rerr := f.beacon.Upgrade(f.address, prev); rerr != nil {
				return errors.Join(err, rerr)
			}
			observability.LogPersistError(f.cfg.logger, OpUpgrade, err)
			return rverrors.Internal(OpUpgrade, "persist factory record", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	observability.LogUpgrade(f.cfg.logger, prev.Version(), impl.Version())
	f.publish(ctx, event.New(event.TypeImplementationUpgraded, f.address, caller, event.ImplementationUpgraded{
		Previous: prev.Version(),
		Current:  impl.Version(),
	}))
	return nil
}

// Restore rebuilds a factory and all its instances from st. Options are
// applied as in New; the owner and address come from the stored record.
func Restore(ctx context.Context, st store.Store, rail ledger.Transferrer, opts ...Option) (*Factory, error) {
	if st == nil {
		return nil, rverrors.InvalidArgument(opRestore, "store is required")
	}
	data, err := st.Load(ctx, NamespaceRecord, recordKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, rverrors.NotFound(opRestore, "no factory record")
	}
	if err != nil {
		return nil, rverrors.Internal(opRestore, "load factory record", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, rverrors.Internal(opRestore, "decode factory record", err)
	}
	if rec.Version != recordVersion {
		return nil, rverrors.Internal(opRestore, "unsupported factory record version", nil)
	}

	f, err := New(rec.Owner, rail, append(opts, WithAddress(rec.Address), WithStore(st))...)
	if err != nil {
		return nil, err
	}
	if v := f.Implementation().Version(); v != rec.Implementation {
		f.cfg.logger.Warn("implementation differs from stored record",
			slog.String("stored", rec.Implementation),
			slog.String("current", v),
		)
	}

	f.nonce = rec.Nonce
	for _, handle := range rec.Instances {
		inst, err := rsvpvault.RestoreInstance(ctx, st, handle, f.beacon, rail, f.cfg.instanceOptions()...)
		if err != nil {
			return nil, err
		}
		f.instances.Add(handle, inst)
	}
	f.cfg.logger.Info("factory restored",
		slog.Int("instances", f.instances.Len()),
		slog.Uint64("nonce", f.nonce),
	)
	return f, nil
}

// persist writes the factory record. Callers hold f.mu.
func (f *Factory) persist(ctx context.Context) error {
	if f.cfg.store == nil {
		return nil
	}
	data, err := json.Marshal(record{
		Version:        recordVersion,
		Owner:          f.owner,
		Address:        f.address,
		Nonce:          f.nonce,
		Implementation: f.beacon.Implementation().Version(),
		Instances:      f.instances.Keys(),
	})
	if err != nil {
		return err
	}
	return f.cfg.store.Save(ctx, NamespaceRecord, recordKey, data)
}

func (f *Factory) withDefaults(p rsvpvault.Params) rsvpvault.Params {
	s := f.cfg.settings
	if p.Name == "" {
		p.Name = s.DefaultName
	}
	if p.Deposit == 0 {
		p.Deposit = s.DefaultDeposit
	}
	if p.Limit == 0 {
		p.Limit = s.DefaultLimit
	}
	if p.CoolingPeriod == 0 {
		p.CoolingPeriod = s.DefaultCoolingPeriod.Std()
	}
	return p
}

func (f *Factory) observe(ctx context.Context, op string, actor common.Address, fn func(context.Context) error) error {
	ctx, span := f.cfg.spans.StartOpSpan(ctx, op, f.address, actor)
	done := observability.TimedOperation()
	start := time.Now()

	err := fn(ctx)

	f.cfg.spans.EndSpanWithError(span, err)
	f.cfg.metrics.RecordOperation(ctx, op, time.Since(start), err)
	if err != nil {
		observability.LogOpRejected(f.cfg.logger, op, err)
		return err
	}
	observability.LogOpComplete(f.cfg.logger, op, actor, done())
	return nil
}

func (f *Factory) publish(ctx context.Context, evt event.Event) {
	if err := f.cfg.publisher.Publish(ctx, evt); err != nil {
		observability.LogPublishError(f.cfg.logger, string(evt.Type()), err)
	}
}
