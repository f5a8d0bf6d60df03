package world

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/core/ecs"
	"github.com/l1jgo/networld/internal/core/event"
	coresys "github.com/l1jgo/networld/internal/core/system"
	"go.uber.org/zap"
)

// DefaultLongFrame is the step duration above which a LongFrame is reported.
const DefaultLongFrame = 50 * time.Millisecond

// NetworkObject marks an entity replicated under (Owner, NetworkID).
type NetworkObject struct {
	Owner     action.UserID
	NetworkID action.NetworkID
	Prefab    string
}

// Transform is the replicated placement of a networked entity.
type Transform struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Pose converts the transform to its wire form.
func (t Transform) Pose() action.Pose {
	return action.Pose{Position: t.Position, Rotation: t.Rotation}
}

// Avatar tags the network object that represents a user.
type Avatar struct{}

// AvatarPrefab is the prefab name that spawns an Avatar.
const AvatarPrefab = "avatar"

// Receptor applies one action to the world it is registered on.
type Receptor func(w *World, a action.Action)

type namedReceptor struct {
	name string
	fn   Receptor
}

// Outbox delivers flushed actions to transport. recipients lists user ids
// (the host id when this process is a participant).
type Outbox interface {
	Deliver(a action.Action, recipients []action.UserID)
}

// Flusher is implemented by outboxes that batch deliveries until the end of
// the step.
type Flusher interface {
	Flush()
}

type outgoingEntry struct {
	a        action.Action
	recorded bool // already in history
}

// Options configures a World.
type Options struct {
	Name         string
	HostID       action.UserID // defaults to action.HostID
	LocalUserID  action.UserID // defaults to HostID, i.e. this process hosts
	TickRate     time.Duration // fixed step length, used for FixedDelta
	LongFrame    time.Duration // defaults to DefaultLongFrame
	HistoryLimit int           // 0 keeps every action
	Clock        func() time.Time
	Bus          *event.Bus
	Log          *zap.Logger
}

// World is one independent simulation: entity store, staged systems, the
// action log and the client registry. All methods except ReceiveActions must
// be called from the goroutine that steps the world.
type World struct {
	name    string
	hostID  action.UserID
	localID action.UserID

	store  *ecs.World
	runner *coresys.Runner[*World]
	bus    *event.Bus
	log    *zap.Logger
	now    func() time.Time

	longFrame    time.Duration
	delta        float64
	elapsed      float64
	fixedDelta   float64
	fixedElapsed float64
	fixedTick    uint64

	inMu      sync.Mutex
	incoming  []action.Action
	lastBatch []action.Action

	outgoing     []outgoingEntry
	cached       []action.Action
	history      []action.Action
	historyLimit int
	receptors    []namedReceptor
	outbox       Outbox

	clients       *ClientRegistry
	lastNetworkID action.NetworkID
	netIndex      *networkIndex
	metadata      map[string]string

	NetworkObjects *ecs.Store[NetworkObject]
	Transforms     *ecs.Store[Transform]
	Avatars        *ecs.Store[Avatar]
	networkQuery   *ecs.Query

	closed bool
}

// New builds a world with its core systems and the network receptor
// installed. Errors mean the store could not be set up.
func New(opts Options) (*World, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.HostID == "" {
		opts.HostID = action.HostID
	}
	if opts.LocalUserID == "" {
		opts.LocalUserID = opts.HostID
	}
	if opts.LongFrame <= 0 {
		opts.LongFrame = DefaultLongFrame
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Name == "" {
		opts.Name = "world"
	}

	store, err := ecs.NewWorld()
	if err != nil {
		return nil, fmt.Errorf("create entity store: %w", err)
	}

	w := &World{
		name:         opts.Name,
		hostID:       opts.HostID,
		localID:      opts.LocalUserID,
		store:        store,
		bus:          opts.Bus,
		log:          opts.Log.With(zap.String("world", opts.Name)),
		now:          opts.Clock,
		longFrame:    opts.LongFrame,
		fixedDelta:   opts.TickRate.Seconds(),
		historyLimit: opts.HistoryLimit,
		clients:      NewClientRegistry(),
		netIndex:     newNetworkIndex(),
		metadata:     make(map[string]string),
	}
	w.runner = coresys.NewRunner[*World](w.log)

	if w.NetworkObjects, err = ecs.Register[NetworkObject](store); err != nil {
		return nil, fmt.Errorf("register NetworkObject: %w", err)
	}
	if w.Transforms, err = ecs.Register[Transform](store); err != nil {
		return nil, fmt.Errorf("register Transform: %w", err)
	}
	if w.Avatars, err = ecs.Register[Avatar](store); err != nil {
		return nil, fmt.Errorf("register Avatar: %w", err)
	}
	w.networkQuery = store.DefineQuery(w.NetworkObjects)
	store.OnDestroy(w.forgetNetworkObject)

	if err := w.RegisterSystem(coresys.StageFixedEarly, "action-dispatch", NewActionDispatchSystem); err != nil {
		return nil, err
	}
	if err := w.RegisterSystem(coresys.StageFixedLate, "action-cleanup", NewActionCleanupSystem); err != nil {
		return nil, err
	}
	w.runner.AfterStage(func(s coresys.Stage) {
		if s == coresys.StageFixedLate {
			w.fixedTick++
			w.fixedElapsed += w.fixedDelta
		}
	})
	w.AddReceptor("network", NetworkReceptor)
	return w, nil
}

func (w *World) Name() string             { return w.name }
func (w *World) Store() *ecs.World        { return w.store }
func (w *World) Bus() *event.Bus          { return w.bus }
func (w *World) Log() *zap.Logger         { return w.log }
func (w *World) Clients() *ClientRegistry { return w.clients }
func (w *World) HostID() action.UserID    { return w.hostID }
func (w *World) LocalUserID() action.UserID {
	return w.localID
}

// IsHosting reports whether this process holds the authoritative state.
func (w *World) IsHosting() bool { return w.localID == w.hostID }

func (w *World) Delta() float64        { return w.delta }
func (w *World) ElapsedTime() float64  { return w.elapsed }
func (w *World) FixedDelta() float64   { return w.fixedDelta }
func (w *World) FixedElapsed() float64 { return w.fixedElapsed }
func (w *World) FixedTick() uint64     { return w.fixedTick }
func (w *World) Now() time.Time        { return w.now() }

// SetFixedTick seeds the tick counter, used when catching up to a host.
func (w *World) SetFixedTick(t uint64) { w.fixedTick = t }

// Metadata returns a scene flag set through SetSceneFlag.
func (w *World) Metadata(key string) (string, bool) {
	v, ok := w.metadata[key]
	return v, ok
}

// SetOutbox installs the transport used by FlushOutgoing.
func (w *World) SetOutbox(o Outbox) { w.outbox = o }

// RegisterSystem instantiates a system for this world and appends it to stage.
func (w *World) RegisterSystem(stage coresys.Stage, name string, factory coresys.Factory[*World]) error {
	return w.runner.Register(w, stage, name, factory)
}

// AddReceptor appends a receptor; receptors run in registration order.
func (w *World) AddReceptor(name string, r Receptor) {
	w.receptors = append(w.receptors, namedReceptor{name: name, fn: r})
}

// Step runs one simulation tick: every stage in order, the outgoing flush
// and the removal sweep. Overruns are reported, never cut short.
func (w *World) Step(delta, elapsed float64) {
	if w.closed {
		return
	}
	start := w.now()
	w.bus.Flush()
	w.delta = delta
	w.elapsed = elapsed
	w.lastBatch = nil

	w.runner.Step(w)
	w.FlushOutgoing()
	w.store.Sweep()

	duration := w.now().Sub(start)
	if duration > w.longFrame {
		w.reportLongFrame(delta, duration)
	}
}

func (w *World) reportLongFrame(delta float64, duration time.Duration) {
	batch := make([]string, 0, len(w.lastBatch))
	for _, a := range w.lastBatch {
		batch = append(batch, string(a.Type()))
	}
	pending := w.PendingIncoming()
	event.Emit(w.bus, event.LongFrame{
		World:           w.name,
		Tick:            w.fixedTick,
		Delta:           delta,
		Duration:        duration,
		PendingIncoming: pending,
		Batch:           batch,
	})
	w.log.Warn("long frame",
		zap.Float64("delta", delta),
		zap.Duration("duration", duration),
		zap.Int("pending_incoming", pending),
		zap.Strings("batch", batch),
	)
}

// Shutdown releases every client's transport handles and stops further
// steps. Safe to call more than once.
func (w *World) Shutdown() {
	if w.closed {
		return
	}
	w.closed = true
	w.clients.Each(func(c *ClientRecord) {
		if err := c.CloseTransports(); err != nil {
			w.log.Debug("close transports", zap.String("user", string(c.UserID)), zap.Error(err))
		}
	})
}

func (w *World) Closed() bool { return w.closed }
