package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Flomik10002/ItemRacePlatform/internal/transport"
)

const waitFor = time.Second

// --- fakes -----------------------------------------------------------------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type dialAttempt struct {
	URI  string
	ID   uint64
	Sink transport.Sink
}

type fakeDialer struct {
	attempts chan dialAttempt
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{attempts: make(chan dialAttempt, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, uri string, id uint64, sink transport.Sink) {
	d.attempts <- dialAttempt{URI: uri, ID: id, Sink: sink}
}

type fakeConn struct {
	id   uint64
	sent chan string
}

func newFakeConn(id uint64) *fakeConn {
	return &fakeConn{id: id, sent: make(chan string, 64)}
}

func (c *fakeConn) ID() uint64 { return c.id }

func (c *fakeConn) Send(text string) { c.sent <- text }

func (c *fakeConn) Close(code int, reason string) {}

type fakeWorlds struct {
	mu      sync.Mutex
	created []string
	seeds   []string
	loaded  bool
	current string
}

func (w *fakeWorlds) Create(dir, seed string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.created = append(w.created, dir)
	w.seeds = append(w.seeds, seed)
}

func (w *fakeWorlds) Loaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loaded
}

func (w *fakeWorlds) CurrentName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *fakeWorlds) createdCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.created)
}

// enterCreated marks the most recently created world as live.
func (w *fakeWorlds) enterCreated() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaded = true
	w.current = w.created[len(w.created)-1]
}

// leaveWorld simulates being back in the menu.
func (w *fakeWorlds) leaveWorld() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaded = false
	w.current = ""
}

// wanderInto simulates the player loading some unrelated save.
func (w *fakeWorlds) wanderInto(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loaded = true
	w.current = name
}

type fakeTimer struct {
	mu    sync.Mutex
	armed []string
	igt   int64
	rta   int64
}

func (ft *fakeTimer) Arm(world string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.armed = append(ft.armed, world)
}

func (ft *fakeTimer) Complete() (int64, int64) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.igt, ft.rta
}

func (ft *fakeTimer) armedCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.armed)
}

type fakeInventory struct {
	mu    sync.Mutex
	holds bool
}

func (i *fakeInventory) Holds(string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.holds
}

func (i *fakeInventory) setHolds(v bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.holds = v
}

// --- harness ---------------------------------------------------------------

type harness struct {
	t      *testing.T
	sess   *Session
	dialer *fakeDialer
	clock  *fakeClock
	worlds *fakeWorlds
	timer  *fakeTimer
	inv    *fakeInventory
	chat   chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		dialer: newFakeDialer(),
		clock:  newFakeClock(),
		worlds: &fakeWorlds{},
		timer:  &fakeTimer{igt: 61_000, rta: 65_500},
		inv:    &fakeInventory{},
		chat:   make(chan string, 64),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h.sess = New(ctx, Config{
		ServerURI:         "ws://race.test:8080/race",
		PlayerID:          "self-id",
		PlayerName:        "Self",
		CountdownFallback: 10 * time.Second,
		ReconnectCooldown: 1500 * time.Millisecond,
	}, Deps{
		Dialer:    h.dialer,
		Worlds:    h.worlds,
		Timer:     h.timer,
		Inventory: h.inv,
		Chat:      func(text string) { h.chat <- text },
		Clock:     h.clock.Now,
	}, nil)
	t.Cleanup(h.sess.Close)
	return h
}

// barrier waits until every message posted so far has been processed.
func (h *harness) barrier() {
	h.sess.View()
}

func (h *harness) expectDial() dialAttempt {
	h.t.Helper()
	select {
	case a := <-h.dialer.attempts:
		return a
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for dial attempt")
		return dialAttempt{}
	}
}

func (h *harness) expectNoDial(within time.Duration) {
	h.t.Helper()
	select {
	case a := <-h.dialer.attempts:
		h.t.Fatalf("expected no dial attempt, got one for %q (conn %d)", a.URI, a.ID)
	case <-time.After(within):
	}
}

func (h *harness) expectSent(conn *fakeConn) map[string]any {
	h.t.Helper()
	select {
	case raw := <-conn.sent:
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			h.t.Fatalf("sent frame is not JSON: %q", raw)
		}
		return m
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

func (h *harness) expectSentType(conn *fakeConn, msgType string) map[string]any {
	h.t.Helper()
	m := h.expectSent(conn)
	if m["type"] != msgType {
		h.t.Fatalf("want outbound %q, got %+v", msgType, m)
	}
	return m
}

func (h *harness) expectNoSent(conn *fakeConn, within time.Duration) {
	h.t.Helper()
	select {
	case raw := <-conn.sent:
		h.t.Fatalf("expected no outbound message within %v, got %q", within, raw)
	case <-time.After(within):
	}
}

func (h *harness) expectChat() string {
	h.t.Helper()
	select {
	case text := <-h.chat:
		return text
	case <-time.After(waitFor):
		h.t.Fatalf("timed out waiting for chat message")
		return ""
	}
}

func (h *harness) expectNoChat(within time.Duration) {
	h.t.Helper()
	select {
	case text := <-h.chat:
		h.t.Fatalf("expected no chat message, got %q", text)
	case <-time.After(within):
	}
}

func drainChat(h *harness) {
	h.barrier()
	for {
		select {
		case <-h.chat:
		default:
			return
		}
	}
}

// openAndAuth answers a dial attempt, completes the hello/welcome
// handshake, then asserts the queued commands flush in order before the
// post-auth sync_state.
func (h *harness) openAndAuth(a dialAttempt, queued ...string) *fakeConn {
	h.t.Helper()
	conn := newFakeConn(a.ID)
	a.Sink(transport.Opened{ID: a.ID, Conn: conn})

	hello := h.expectSentType(conn, "hello")
	if hello["playerId"] != "self-id" || hello["name"] != "Self" {
		h.t.Fatalf("hello carries wrong identity: %+v", hello)
	}

	a.Sink(transport.Frame{ID: a.ID, Text: `{"type":"welcome","sessionId":"sess-1"}`})
	for _, msgType := range queued {
		h.expectSentType(conn, msgType)
	}
	h.expectSentType(conn, "sync_state")
	return conn
}

func snapshotLobby(players ...string) string {
	list := make([]string, 0, len(players))
	for _, p := range players {
		list = append(list, fmt.Sprintf(`{"playerId":%q,"name":%q,"connectionState":"CONNECTED"}`, p, p))
	}
	return fmt.Sprintf(`{"type":"state","snapshot":{"self":{"playerId":"self-id","connectionState":"CONNECTED"},"room":{"code":"abc 123","leaderId":"self-id","players":[%s]}}}`,
		strings.Join(list, ","))
}

func snapshotActiveMatch(matchID string, playerStatuses string) string {
	return fmt.Sprintf(`{"type":"state","snapshot":{"self":{"playerId":"self-id","connectionState":"CONNECTED"},"room":{"code":"ABC123","leaderId":"self-id","players":[{"playerId":"self-id","name":"Self","connectionState":"CONNECTED"},{"playerId":"rival-id","name":"Rival","connectionState":"CONNECTED"}],"currentMatch":{"id":%q,"seed":"123","targetItem":"minecraft:diamond","isActive":true,"players":[%s]}}}}`,
		matchID, playerStatuses)
}

// startRunningMatch drives the harness to StateRunning with an active
// match m1 and the race world live.
func startRunningMatch(t *testing.T, h *harness) (dialAttempt, *fakeConn) {
	t.Helper()

	h.sess.JoinRoom("abc123")
	a := h.expectDial()
	conn := h.openAndAuth(a, "join_room")

	a.Sink(transport.Frame{ID: a.ID, Text: snapshotActiveMatch("m1", `{"playerId":"self-id","status":"RUNNING"},{"playerId":"rival-id","status":"RUNNING"}`)})
	h.barrier()

	h.clock.Advance(10 * time.Second)
	h.sess.Tick()
	h.barrier()
	if h.worlds.createdCount() != 1 {
		t.Fatalf("world not created after countdown")
	}
	h.worlds.enterCreated()
	h.sess.Tick()
	if v := h.sess.View(); v.State != StateRunning {
		t.Fatalf("failed to reach RUNNING: %s", v.StateName)
	}
	return a, conn
}

// --- tests -----------------------------------------------------------------

func TestScenarioA_CreateRoomToLobby(t *testing.T) {
	h := newHarness(t)

	h.sess.CreateRoom()
	a := h.expectDial()
	conn := h.openAndAuth(a, "create_room")

	a.Sink(transport.Frame{ID: a.ID, Text: snapshotLobby("self-id")})

	v := h.sess.View()
	if v.State != StateLobby {
		t.Fatalf("want LOBBY, got %s", v.StateName)
	}
	if v.RoomCode != "ABC123" {
		t.Fatalf("room code not normalized: %q", v.RoomCode)
	}
	if len(v.Players) != 1 || v.Players[0].ID != "self-id" || !v.Players[0].Leader {
		t.Fatalf("unexpected players: %+v", v.Players)
	}
	h.expectNoSent(conn, 50*time.Millisecond)
}

func TestQueueFlushKeepsFIFOOrder(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom(" ab c123 ")
	a := h.expectDial()
	conn := newFakeConn(a.ID)
	a.Sink(transport.Opened{ID: a.ID, Conn: conn})

	h.expectSentType(conn, "hello")
	// Nothing but the handshake may go out while unauthenticated.
	h.expectNoSent(conn, 50*time.Millisecond)

	a.Sink(transport.Frame{ID: a.ID, Text: `{"type":"welcome","sessionId":"s"}`})

	join := h.expectSentType(conn, "join_room")
	if join["roomCode"] != "ABC123" {
		t.Fatalf("join_room code not normalized: %+v", join)
	}
	h.expectSentType(conn, "sync_state")
	h.expectNoSent(conn, 50*time.Millisecond)
}

func TestQueueSurvivesReconnectInOrder(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a1 := h.expectDial()
	conn1 := h.openAndAuth(a1, "join_room")

	// Land in a lobby with an item rolled, then lose the connection.
	a1.Sink(transport.Frame{ID: a1.ID, Text: `{"type":"state","snapshot":{"self":{"playerId":"self-id","connectionState":"CONNECTED"},"room":{"code":"ABC123","leaderId":"self-id","players":[{"playerId":"self-id","name":"Self","connectionState":"CONNECTED"}],"pendingMatch":{"targetItem":"minecraft:diamond","seed":123}}}}`})
	a1.Sink(transport.Closed{ID: a1.ID, Reason: "network flap"})
	h.barrier()

	// Both commands queue while disconnected; the first triggers a dial.
	h.sess.RollMatch()
	h.sess.RequestStart()

	a2 := h.expectDial()
	conn2 := h.openAndAuth(a2, "roll_match", "start_match")
	h.expectNoSent(conn2, 50*time.Millisecond)
	_ = conn1
}

func TestScenarioB_ActiveMatchSchedulesCountdownAndWorld(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a := h.expectDial()
	conn := h.openAndAuth(a, "join_room")

	a.Sink(transport.Frame{ID: a.ID, Text: snapshotActiveMatch("m1", `{"playerId":"self-id","status":"RUNNING"}`)})

	v := h.sess.View()
	if v.State != StateStarting {
		t.Fatalf("want STARTING, got %s", v.StateName)
	}
	if v.CountdownSeconds != 10 {
		t.Fatalf("want 10s countdown, got %d", v.CountdownSeconds)
	}
	if v.TargetItem != "minecraft:diamond" || v.Seed != "123" {
		t.Fatalf("match fields not applied: target=%q seed=%q", v.TargetItem, v.Seed)
	}

	// Before the countdown elapses, no world creation.
	h.sess.Tick()
	h.barrier()
	if h.worlds.createdCount() != 0 {
		t.Fatalf("world created before countdown elapsed")
	}

	h.clock.Advance(10 * time.Second)
	h.sess.Tick()
	h.sess.Tick()
	h.barrier()
	if got := h.worlds.createdCount(); got != 1 {
		t.Fatalf("world creation requested %d times, want exactly 1", got)
	}

	// Still Starting while the world loads; Running only once it is live.
	if v := h.sess.View(); v.State != StateStarting {
		t.Fatalf("want STARTING while world loads, got %s", v.StateName)
	}
	h.worlds.enterCreated()
	h.sess.Tick()
	if v := h.sess.View(); v.State != StateRunning {
		t.Fatalf("want RUNNING, got %s", v.StateName)
	}
	if h.timer.armedCount() != 1 {
		t.Fatalf("timer armed %d times, want 1", h.timer.armedCount())
	}
	h.sess.Tick()
	h.barrier()
	if h.timer.armedCount() != 1 {
		t.Fatalf("timer re-armed on later tick")
	}
	_ = conn
}

func TestFinishRunIdempotentPerMatch(t *testing.T) {
	h := newHarness(t)
	_, conn := startRunningMatch(t, h)

	h.inv.setHolds(true)
	h.sess.Tick()

	finish := h.expectSentType(conn, "finish")
	if finish["rttMs"] != float64(65500) || finish["igtMs"] != float64(61000) {
		t.Fatalf("finish times wrong: %+v", finish)
	}
	if msg := h.expectChat(); !strings.Contains(msg, "found the target item") {
		t.Fatalf("unexpected finish chat: %q", msg)
	}

	// Further ticks and explicit calls stay latched.
	h.sess.Tick()
	h.sess.FinishRun(FinishTargetObtained)
	h.sess.FinishRun(FinishDeath)
	h.expectNoSent(conn, 50*time.Millisecond)

	v := h.sess.View()
	if len(v.Leaderboard) != 1 {
		t.Fatalf("want exactly one finish record, got %+v", v.Leaderboard)
	}
}

func TestFinishIgnoredOutsideRaceWorld(t *testing.T) {
	h := newHarness(t)
	_, conn := startRunningMatch(t, h)

	h.worlds.wanderInto("creative_test_world")

	h.sess.FinishRun(FinishTargetObtained)
	if msg := h.expectChat(); !strings.Contains(msg, "not in race world") {
		t.Fatalf("want stale-world warning, got %q", msg)
	}
	h.expectNoSent(conn, 50*time.Millisecond)
}

func TestScenarioC_AllTerminalAnnouncesWinnerOnce(t *testing.T) {
	h := newHarness(t)
	a, _ := startRunningMatch(t, h)
	drainChat(h)

	allTerminal := snapshotActiveMatch("m1",
		`{"playerId":"self-id","status":"FINISHED","result":{"rttMs":65500,"igtMs":61000}},{"playerId":"rival-id","status":"DEATH"}`)

	a.Sink(transport.Frame{ID: a.ID, Text: allTerminal})
	h.barrier()

	sawWinner := false
	for done := false; !done; {
		select {
		case text := <-h.chat:
			if strings.Contains(text, "Winner") {
				sawWinner = true
			}
		default:
			done = true
		}
	}
	if !sawWinner {
		t.Fatalf("no winner announcement after all-terminal snapshot")
	}

	// A second identical snapshot must not re-announce.
	a.Sink(transport.Frame{ID: a.ID, Text: allTerminal})
	h.barrier()
	h.expectNoChat(100 * time.Millisecond)

	v := h.sess.View()
	if v.State != StateFinished {
		t.Fatalf("want FINISHED, got %s", v.StateName)
	}
	if len(v.Leaderboard) != 2 {
		t.Fatalf("want 2 leaderboard rows, got %+v", v.Leaderboard)
	}
	if v.Leaderboard[0].Name != "Self" || v.Leaderboard[1].Time != "ELIMINATED" {
		t.Fatalf("ranking wrong: %+v", v.Leaderboard)
	}
}

func TestScenarioD_RoomNotFoundResetsToIdle(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a := h.expectDial()
	conn := h.openAndAuth(a, "join_room")
	a.Sink(transport.Frame{ID: a.ID, Text: snapshotLobby("self-id", "rival-id")})

	if v := h.sess.View(); v.State != StateLobby {
		t.Fatalf("precondition: want LOBBY, got %s", v.StateName)
	}

	a.Sink(transport.Frame{ID: a.ID, Text: `{"type":"error","code":"ROOM_NOT_FOUND","message":"Room not found"}`})

	v := h.sess.View()
	if v.State != StateIdle {
		t.Fatalf("want IDLE after ROOM_NOT_FOUND, got %s", v.StateName)
	}
	if v.RoomCode != "" || len(v.Players) != 0 {
		t.Fatalf("room state not cleared: code=%q players=%+v", v.RoomCode, v.Players)
	}
	_ = conn
}

func TestReconnectRespectsCooldown(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a := h.expectDial()
	conn := h.openAndAuth(a, "join_room")
	a.Sink(transport.Frame{ID: a.ID, Text: snapshotLobby("self-id")})
	a.Sink(transport.Closed{ID: a.ID, Reason: "gone"})
	h.barrier()

	h.sess.Tick()
	a2 := h.expectDial() // first attempt fires immediately
	a2.Sink(transport.Failed{ID: a2.ID, Err: errors.New("refused")})
	h.barrier()

	h.clock.Advance(500 * time.Millisecond)
	h.sess.Tick()
	h.clock.Advance(500 * time.Millisecond)
	h.sess.Tick()
	h.expectNoDial(100 * time.Millisecond)

	h.clock.Advance(600 * time.Millisecond)
	h.sess.Tick()
	h.expectDial()
	_ = conn
}

func TestStaleConnectionEventsDiscarded(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a1 := h.expectDial()
	conn1 := h.openAndAuth(a1, "join_room")
	a1.Sink(transport.Frame{ID: a1.ID, Text: snapshotLobby("self-id")})

	h.sess.Disconnect()
	h.sess.Connect()
	a2 := h.expectDial()
	if a2.ID == a1.ID {
		t.Fatalf("reconnect reused connection id %d", a1.ID)
	}
	conn2 := h.openAndAuth(a2)

	// A frame from the superseded connection must not mutate anything.
	a1.Sink(transport.Frame{ID: a1.ID, Text: `{"type":"error","code":"ROOM_NOT_FOUND","message":"stale"}`})
	if v := h.sess.View(); v.State != StateLobby {
		t.Fatalf("stale frame mutated state: %s", v.StateName)
	}
	// And a stale close must not mark us disconnected.
	a1.Sink(transport.Closed{ID: a1.ID, Reason: "old socket"})
	if v := h.sess.View(); v.Connection != ConnConnected {
		t.Fatalf("stale close changed connection status: %s", v.ConnectionName)
	}
	_, _ = conn1, conn2
}

func TestSendFailureRequeuesAndReconnects(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a1 := h.expectDial()
	conn1 := h.openAndAuth(a1, "join_room")
	a1.Sink(transport.Frame{ID: a1.ID, Text: snapshotLobby("self-id")})

	a1.Sink(transport.SendFailed{ID: a1.ID, Payload: `{"type":"roll_match"}`, Err: errors.New("broken pipe")})

	a2 := h.expectDial()
	conn2 := h.openAndAuth(a2, "roll_match")
	h.expectNoSent(conn2, 50*time.Millisecond)
	_ = conn1
}

func TestNotAuthenticatedTriggersRehandshake(t *testing.T) {
	h := newHarness(t)

	h.sess.Connect()
	a := h.expectDial()
	conn := h.openAndAuth(a)

	a.Sink(transport.Frame{ID: a.ID, Text: `{"type":"error","code":"NOT_AUTHENTICATED","message":"who are you"}`})

	hello := h.expectSentType(conn, "hello")
	if hello["sessionId"] != "sess-1" {
		t.Fatalf("re-handshake should resume session: %+v", hello)
	}
	if v := h.sess.View(); v.Authenticated {
		t.Fatalf("still marked authenticated after NOT_AUTHENTICATED")
	}
}

func TestCancelStartIsOptimistic(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a := h.expectDial()
	conn := h.openAndAuth(a, "join_room")
	a.Sink(transport.Frame{ID: a.ID, Text: snapshotActiveMatch("m1", `{"playerId":"self-id","status":"RUNNING"}`)})

	if v := h.sess.View(); v.State != StateStarting {
		t.Fatalf("precondition: want STARTING, got %s", v.StateName)
	}

	h.sess.CancelStart()
	h.expectSentType(conn, "cancel_start")
	if v := h.sess.View(); v.State != StateLobby {
		t.Fatalf("cancel not applied optimistically: %s", v.StateName)
	}

	// The server rejected the cancel: the next snapshot re-asserts the
	// match and the client follows.
	a.Sink(transport.Frame{ID: a.ID, Text: snapshotActiveMatch("m1", `{"playerId":"self-id","status":"RUNNING"}`)})
	if v := h.sess.View(); v.State != StateStarting {
		t.Fatalf("authoritative snapshot not honored: %s", v.StateName)
	}
}

func TestRequestStartPreconditions(t *testing.T) {
	h := newHarness(t)

	h.sess.JoinRoom("abc123")
	a := h.expectDial()
	conn := h.openAndAuth(a, "join_room")

	// Lobby led by someone else.
	a.Sink(transport.Frame{ID: a.ID, Text: `{"type":"state","snapshot":{"self":{"playerId":"self-id","connectionState":"CONNECTED"},"room":{"code":"ABC123","leaderId":"rival-id","players":[{"playerId":"rival-id","name":"Rival","connectionState":"CONNECTED"},{"playerId":"self-id","name":"Self","connectionState":"CONNECTED"}]}}}`})

	h.sess.RequestStart()
	v := h.sess.View()
	if !strings.Contains(v.LastError, "leader") {
		t.Fatalf("want leader rejection, got %q", v.LastError)
	}
	h.expectNoSent(conn, 50*time.Millisecond)

	// Now leader, but no match rolled.
	a.Sink(transport.Frame{ID: a.ID, Text: snapshotLobby("self-id")})
	h.sess.RequestStart()
	v = h.sess.View()
	if !strings.Contains(v.LastError, "roll") {
		t.Fatalf("want roll-first rejection, got %q", v.LastError)
	}
	h.expectNoSent(conn, 50*time.Millisecond)
}

func TestMatchIDChangeClearsRaceScopedState(t *testing.T) {
	h := newHarness(t)
	a, conn := startRunningMatch(t, h)
	drainChat(h)

	h.inv.setHolds(true)
	h.sess.Tick()
	h.expectSentType(conn, "finish")
	drainChat(h)

	// New match id: finish records, latch, and world flags reset together.
	h.worlds.leaveWorld()
	h.inv.setHolds(false)

	a.Sink(transport.Frame{ID: a.ID, Text: snapshotActiveMatch("m2", `{"playerId":"self-id","status":"RUNNING"}`)})

	v := h.sess.View()
	if v.State != StateStarting {
		t.Fatalf("want STARTING for new match, got %s", v.StateName)
	}
	if len(v.Leaderboard) != 0 {
		t.Fatalf("finish records leaked into new match: %+v", v.Leaderboard)
	}

	h.clock.Advance(10 * time.Second)
	h.sess.Tick()
	h.barrier()
	if got := h.worlds.createdCount(); got != 2 {
		t.Fatalf("world creation for second match: got %d total, want 2", got)
	}
}
