package handler

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/world"
	"golang.org/x/crypto/bcrypt"
)

type fakePeer struct {
	id     string
	closed int
}

func (p *fakePeer) ID() string   { return p.id }
func (p *fakePeer) Close() error { p.closed++; return nil }

type delivery struct {
	a  action.Action
	to []action.UserID
}

type outbox struct{ got []delivery }

func (o *outbox) Deliver(a action.Action, to []action.UserID) {
	o.got = append(o.got, delivery{a: a, to: slices.Clone(to)})
}

func (o *outbox) take() []delivery {
	d := o.got
	o.got = nil
	return d
}

type fakeSpawns struct {
	pose   action.Pose
	ground bool
}

func (s fakeSpawns) RandomSpawn() action.Pose { return s.pose }
func (s fakeSpawns) OnGround(mgl64.Vec3) bool { return s.ground }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestHost(t *testing.T, deps Deps) (*Host, *world.World, *outbox, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	w, err := world.New(world.Options{Name: "arena", Clock: c.now})
	if err != nil {
		t.Fatal(err)
	}
	out := &outbox{}
	w.SetOutbox(out)
	deps.World = w
	return NewHost(deps), w, out, c
}

func connectAndJoin(t *testing.T, h *Host, p Peer, u action.UserID, req JoinRequest) *JoinResponse {
	t.Helper()
	if _, err := h.Connect(p, u, string(u), req.AccessKey); err != nil {
		t.Fatalf("connect %s: %v", u, err)
	}
	resp, err := h.JoinWorld(p, u, req)
	if err != nil {
		t.Fatalf("join %s: %v", u, err)
	}
	return resp
}

func step(w *world.World) { w.Step(0.05, 0) }

func TestLateJoinCatchUp(t *testing.T) {
	h, w, out, _ := newTestHost(t, Deps{})
	pa := &fakePeer{id: "conn-a"}

	respA := connectAndJoin(t, h, pa, "a", JoinRequest{})
	if len(respA.Clients) != 1 || respA.Clients[0] != (ClientInfo{UserID: "a", Index: 0, Name: "a"}) {
		t.Fatalf("clients for a = %+v", respA.Clients)
	}
	if len(respA.CachedActions) != 0 {
		t.Fatalf("cache for first joiner = %v", respA.CachedActions)
	}
	step(w)
	if d := out.take(); len(d) != 0 {
		t.Fatalf("CreateClient for a delivered to %+v, want nobody", d)
	}

	spawnPose := action.Pose{Position: mgl64.Vec3{1, 0, 1}, Rotation: mgl64.QuatIdent()}
	raw, err := action.EncodeBatch([]action.Action{
		action.New("spoofed", action.ToAll, action.SpawnObject{NetworkID: 1, Prefab: world.AvatarPrefab, Parameters: spawnPose}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := h.IncomingActions(pa, raw); n != 1 {
		t.Fatalf("queued %d actions", n)
	}
	step(w)
	out.take()

	e, err := w.GetNetworkObject("a", 1)
	if err != nil {
		t.Fatalf("avatar not owned by stamped sender: %v", err)
	}
	tr, _ := w.Transforms.Get(e)
	tr.Position = mgl64.Vec3{5, 0, 0}

	pb := &fakePeer{id: "conn-b"}
	respB := connectAndJoin(t, h, pb, "b", JoinRequest{})
	if respB.Tick != w.FixedTick() {
		t.Fatalf("tick = %d, want %d", respB.Tick, w.FixedTick())
	}
	wantClients := []ClientInfo{{UserID: "a", Index: 0, Name: "a"}, {UserID: "b", Index: 1, Name: "b"}}
	if !slices.Equal(respB.Clients, wantClients) {
		t.Fatalf("clients = %+v", respB.Clients)
	}
	if len(respB.CachedActions) != 1 {
		t.Fatalf("cached = %v", respB.CachedActions)
	}
	got := respB.CachedActions[0].Payload.(action.SpawnObject)
	if got.Parameters.Position != (mgl64.Vec3{5, 0, 0}) {
		t.Fatalf("avatar spawn pose not refreshed: %v", got.Parameters.Position)
	}
	if orig := w.CachedActions()[0].Payload.(action.SpawnObject); orig.Parameters != spawnPose {
		t.Fatal("refresh mutated the cache")
	}

	step(w)
	d := out.take()
	if len(d) != 1 || d[0].a.Type() != action.KindCreateClient || d[0].a.From != "b" {
		t.Fatalf("deliveries after b joined = %+v", d)
	}
	if !slices.Equal(d[0].to, []action.UserID{"a"}) {
		t.Fatalf("CreateClient for b sent to %v", d[0].to)
	}

	// B's own process applies the payload after it crossed the wire.
	data, err := json.Marshal(respB)
	if err != nil {
		t.Fatal(err)
	}
	var wire JoinResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	bw, err := world.New(world.Options{LocalUserID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyJoinPayload(bw, &wire); err != nil {
		t.Fatal(err)
	}
	if bw.FixedTick() != respB.Tick {
		t.Fatalf("participant tick = %d", bw.FixedTick())
	}
	bw.Step(0.05, 0.05)
	be, err := bw.GetNetworkObject("a", 1)
	if err != nil {
		t.Fatalf("participant missing a's avatar: %v", err)
	}
	if btr, _ := bw.Transforms.Get(be); btr.Position != (mgl64.Vec3{5, 0, 0}) {
		t.Fatalf("participant avatar at %v", btr.Position)
	}
	if idx, ok := bw.Clients().IndexOf("a"); !ok || idx != 0 {
		t.Fatalf("participant index of a = %d, %v", idx, ok)
	}
}

func TestJoinPurgesDisconnectedUsersCache(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{})
	w.DispatchFrom("ghost", action.SpawnObject{NetworkID: 1, Prefab: "box"}, action.ToAll)
	w.DispatchFrom("late", action.SpawnObject{NetworkID: 9, Prefab: "box"}, action.ToAll)
	w.Dispatch(action.SetSceneFlag{Key: "weather", Value: "rain"}, action.ToAll)
	step(w)

	resp := connectAndJoin(t, h, &fakePeer{id: "c1"}, "late", JoinRequest{})
	if len(resp.CachedActions) != 1 || resp.CachedActions[0].Type() != action.KindSetSceneFlag {
		t.Fatalf("cached = %v", resp.CachedActions)
	}
}

func TestDuplicateConnectIsRejected(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{})
	first := &fakePeer{id: "c1"}
	second := &fakePeer{id: "c2"}
	connectAndJoin(t, h, first, "a", JoinRequest{})

	if _, err := h.Connect(second, "a", "a", ""); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("connect err = %v", err)
	}
	if _, err := h.JoinWorld(second, "a", JoinRequest{}); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("join err = %v", err)
	}
	rec, _ := w.Clients().Get("a")
	if rec.ConnID != "c1" || first.closed != 0 {
		t.Fatalf("existing session disturbed: conn=%s closed=%d", rec.ConnID, first.closed)
	}
	// Re-connecting the bound peer is harmless.
	if _, err := h.Connect(first, "a", "a", ""); err != nil {
		t.Fatal(err)
	}
}

func TestEvictExistingMovesUserToNewcomer(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{Policy: EvictExisting})
	old := &fakePeer{id: "c1"}
	next := &fakePeer{id: "c2"}
	connectAndJoin(t, h, old, "a", JoinRequest{})
	step(w)

	rec, err := h.Connect(next, "a", "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Index != 0 || rec.ConnID != "c2" || old.closed != 1 {
		t.Fatalf("rec=%+v old closed=%d", rec, old.closed)
	}

	// The evicted connection's close must not tear the user down.
	h.Disconnect(old)
	if w.PendingIncoming() != 0 {
		t.Fatal("stale connection dispatched DestroyClient")
	}
	step(w)
	if !w.Clients().Has("a") {
		t.Fatal("user removed by stale disconnect")
	}
}

func TestJoinWithoutConnect(t *testing.T) {
	h, _, _, _ := newTestHost(t, Deps{})
	if _, err := h.JoinWorld(&fakePeer{id: "c"}, "a", JoinRequest{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
}

func TestConnectRejectsHostID(t *testing.T) {
	h, _, _, _ := newTestHost(t, Deps{})
	if _, err := h.Connect(&fakePeer{id: "c"}, action.HostID, "x", ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v", err)
	}
}

func TestAccessKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h, w, _, _ := newTestHost(t, Deps{AccessKeyHash: hash})
	p := &fakePeer{id: "c"}
	if _, err := h.Connect(p, "a", "a", "wrong"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v", err)
	}
	if w.Clients().Has("a") || w.Clients().NextIndex() != 0 {
		t.Fatal("refused user was registered")
	}
	if _, err := h.JoinWorld(p, "a", JoinRequest{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("join after refused connect: %v", err)
	}
	resp := connectAndJoin(t, h, p, "a", JoinRequest{AccessKey: "open sesame"})
	if len(resp.Clients) != 1 || resp.Clients[0].Index != 0 {
		t.Fatalf("clients = %+v", resp.Clients)
	}
}

func TestEvictWithWrongKeyKeepsExistingSession(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h, w, _, _ := newTestHost(t, Deps{AccessKeyHash: hash, Policy: EvictExisting})
	good := &fakePeer{id: "good"}
	connectAndJoin(t, h, good, "a", JoinRequest{AccessKey: "open sesame"})
	step(w)

	bad := &fakePeer{id: "bad"}
	if _, err := h.Connect(bad, "a", "a", "guess"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("err = %v", err)
	}
	rec, _ := w.Clients().Get("a")
	if rec.ConnID != "good" || good.closed != 0 {
		t.Fatalf("existing session disturbed: conn=%s closed=%d", rec.ConnID, good.closed)
	}

	raw, _ := action.EncodeBatch([]action.Action{action.New("a", action.ToAll, action.SetSceneFlag{Key: "k", Value: "pwned"})})
	if n := h.IncomingActions(bad, raw); n != 0 {
		t.Fatalf("refused peer queued %d actions", n)
	}
	step(w)
	if _, ok := w.Metadata("k"); ok {
		t.Fatal("refused peer changed the scene")
	}
}

func TestInvitePlacement(t *testing.T) {
	fallback := action.Pose{Position: mgl64.Vec3{100, 0, 100}, Rotation: mgl64.QuatIdent()}
	tests := []struct {
		name   string
		ground bool
		code   func(*InviteBook) string
		want   mgl64.Vec3
	}{
		{"in front of inviter", true, func(b *InviteBook) string { return b.Issue("a") }, mgl64.Vec3{0, 0, 2}},
		{"off the ground", false, func(b *InviteBook) string { return b.Issue("a") }, fallback.Position},
		{"unknown code", true, func(*InviteBook) string { return "NOPE" }, fallback.Position},
		{"inviter without avatar", true, func(b *InviteBook) string { return b.Issue("nobody") }, fallback.Position},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := NewInviteBook()
			h, w, _, _ := newTestHost(t, Deps{Invites: book, Spawns: fakeSpawns{pose: fallback, ground: tt.ground}})
			pa := &fakePeer{id: "ca"}
			connectAndJoin(t, h, pa, "a", JoinRequest{})
			w.DispatchFrom("a", action.SpawnObject{
				NetworkID:  1,
				Prefab:     world.AvatarPrefab,
				Parameters: action.Pose{Rotation: mgl64.QuatIdent()},
			}, action.ToAll)
			step(w)

			resp := connectAndJoin(t, h, &fakePeer{id: "cb"}, "b", JoinRequest{InviteCode: tt.code(book)})
			if !resp.SpawnPose.Position.ApproxEqual(tt.want) {
				t.Fatalf("spawn at %v, want %v", resp.SpawnPose.Position, tt.want)
			}
		})
	}
}

func TestDisconnect(t *testing.T) {
	h, w, out, _ := newTestHost(t, Deps{})
	pa := &fakePeer{id: "ca"}
	pb := &fakePeer{id: "cb"}
	connectAndJoin(t, h, pa, "a", JoinRequest{})
	connectAndJoin(t, h, pb, "b", JoinRequest{})
	w.DispatchFrom("a", action.SpawnObject{NetworkID: 1, Prefab: world.AvatarPrefab}, action.ToAll)
	step(w)
	out.take()

	h.Disconnect(pa)
	if pa.closed != 1 {
		t.Fatalf("transport closed %d times", pa.closed)
	}
	if len(w.CachedActionsFor("b")) != 0 {
		t.Fatal("cache not purged at disconnect")
	}
	h.Disconnect(pa)
	if w.PendingIncoming() != 1 {
		t.Fatalf("pending = %d, want a single DestroyClient", w.PendingIncoming())
	}

	step(w)
	if w.Clients().Has("a") {
		t.Fatal("a still registered")
	}
	if w.NetworkObjectCount() != 0 {
		t.Fatal("a's avatar survived")
	}
	d := out.take()
	if len(d) != 1 || d[0].a.Type() != action.KindDestroyClient || !slices.Equal(d[0].to, []action.UserID{"b"}) {
		t.Fatalf("deliveries = %+v", d)
	}
}

func TestLeaveWorld(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{})
	p := &fakePeer{id: "c"}
	connectAndJoin(t, h, p, "a", JoinRequest{})
	h.LeaveWorld(p)
	if p.closed != 1 {
		t.Fatal("transport not closed")
	}
	// The closed connection's disconnect arrives afterwards and is ignored.
	h.Disconnect(p)
	step(w)
	if w.Clients().Has("a") {
		t.Fatal("a still registered")
	}
	if w.HistoryLen() != 2 { // CreateClient + DestroyClient
		t.Fatalf("history = %d", w.HistoryLen())
	}
}

func TestHeartbeatAndStaleClients(t *testing.T) {
	h, _, _, c := newTestHost(t, Deps{})
	pa := &fakePeer{id: "ca"}
	pb := &fakePeer{id: "cb"}
	connectAndJoin(t, h, pa, "a", JoinRequest{})
	connectAndJoin(t, h, pb, "b", JoinRequest{})

	c.t = c.t.Add(20 * time.Second)
	h.Heartbeat(pb)
	c.t = c.t.Add(15 * time.Second)

	stale := h.StaleClients(c.t, 30*time.Second)
	if !slices.Equal(stale, []action.UserID{"a"}) {
		t.Fatalf("stale = %v", stale)
	}
}

func TestIncomingActionsSkipsMalformedEntries(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{})
	p := &fakePeer{id: "c"}
	connectAndJoin(t, h, p, "a", JoinRequest{})
	step(w)

	raw := []byte(`[
		{"type":"custom","name":"wave","$from":"x"},
		{"type":"network.UNKNOWN","$from":"x"},
		{"type":"network.SPAWN_OBJECT","$from":"x"}
	]`)
	if n := h.IncomingActions(p, raw); n != 1 {
		t.Fatalf("queued %d, want 1", n)
	}
	if n := h.IncomingActions(&fakePeer{id: "stranger"}, raw); n != 0 {
		t.Fatalf("unbound connection queued %d", n)
	}
	step(w)
	hist := w.History()
	last := hist[len(hist)-1]
	if last.Type() != action.KindCustom || last.From != "a" {
		t.Fatalf("last = %s from %s", last.Type(), last.From)
	}
}

func TestApplyJoinPayloadRefusesHost(t *testing.T) {
	w, _ := world.New(world.Options{})
	if err := ApplyJoinPayload(w, &JoinResponse{}); err == nil {
		t.Fatal("host world accepted a join payload")
	}
}

func TestRejoinOnSameConnectionResyncs(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{})
	p := &fakePeer{id: "c"}
	connectAndJoin(t, h, p, "a", JoinRequest{})
	w.DispatchFrom("a", action.SpawnObject{NetworkID: 1, Prefab: world.AvatarPrefab}, action.ToAll)
	step(w)
	before := w.CachedActions()

	resp, err := h.JoinWorld(p, "a", JoinRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Tick != w.FixedTick() || w.PendingIncoming() != 0 {
		t.Fatalf("tick=%d pending=%d", resp.Tick, w.PendingIncoming())
	}
	if len(resp.CachedActions) != 1 {
		t.Fatalf("resync cached = %v", resp.CachedActions)
	}
	if after := w.CachedActions(); len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatalf("rejoin changed the cache: %v -> %v", before, after)
	}

	respB := connectAndJoin(t, h, &fakePeer{id: "cb"}, "b", JoinRequest{})
	if len(respB.CachedActions) != 1 || respB.CachedActions[0].From != "a" {
		t.Fatalf("late joiner catch-up = %v", respB.CachedActions)
	}
}

func TestIncomingActionsDropsClientLifecycle(t *testing.T) {
	h, w, _, _ := newTestHost(t, Deps{})
	p := &fakePeer{id: "c"}
	connectAndJoin(t, h, p, "a", JoinRequest{})
	step(w)

	raw, _ := action.EncodeBatch([]action.Action{
		action.New("a", action.ToAll, action.DestroyClient{}),
		action.New("a", action.ToAll, action.CreateClient{Name: "z", Index: 9}),
		action.New("a", action.ToAll, action.SetSceneFlag{Key: "k", Value: "v"}),
	})
	if n := h.IncomingActions(p, raw); n != 1 {
		t.Fatalf("queued %d actions, want 1", n)
	}
	step(w)
	if rec, ok := w.Clients().Get("a"); !ok || rec.ConnID != "c" {
		t.Fatal("client removed itself from the registry")
	}
}
