// Package session is the race session core: one actor goroutine owns the
// connection, the authentication handshake, the pending-message queue, and
// the race state machine. Callers post commands through the inbox and read
// immutable View snapshots; transport callbacks re-enter the same loop, so
// no state is ever touched concurrently.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Flomik10002/ItemRacePlatform/internal/config"
	"github.com/Flomik10002/ItemRacePlatform/internal/health"
	"github.com/Flomik10002/ItemRacePlatform/internal/protocol"
	"github.com/Flomik10002/ItemRacePlatform/internal/rank"
	"github.com/Flomik10002/ItemRacePlatform/internal/transport"
)

type msg interface{ isSessionMsg() }

type cmdConnect struct{}
type cmdDisconnect struct{}
type cmdCreateRoom struct{}
type cmdJoinRoom struct{ Code string }
type cmdLeaveRoom struct{}
type cmdRollMatch struct{}
type cmdRequestStart struct{}
type cmdCancelStart struct{}
type cmdFinishRun struct{ Reason FinishReason }
type cmdTick struct{}
type cmdCheckHealth struct{}
type cmdSetServerURI struct{ URI string }
type getView struct{ Reply chan View }
type shutdown struct{}
type transportEvent struct{ Ev transport.Event }
type healthResult struct{ Status health.Status }

func (cmdConnect) isSessionMsg()      {}
func (cmdDisconnect) isSessionMsg()   {}
func (cmdCreateRoom) isSessionMsg()   {}
func (cmdJoinRoom) isSessionMsg()     {}
func (cmdLeaveRoom) isSessionMsg()    {}
func (cmdRollMatch) isSessionMsg()    {}
func (cmdRequestStart) isSessionMsg() {}
func (cmdCancelStart) isSessionMsg()  {}
func (cmdFinishRun) isSessionMsg()    {}
func (cmdTick) isSessionMsg()         {}
func (cmdCheckHealth) isSessionMsg()  {}
func (cmdSetServerURI) isSessionMsg() {}
func (getView) isSessionMsg()         {}
func (shutdown) isSessionMsg()        {}
func (transportEvent) isSessionMsg()  {}
func (healthResult) isSessionMsg()    {}

type Session struct {
	inbox  chan msg
	cfg    Config
	deps   Deps
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
	st     state
}

type noopWorlds struct{}

func (noopWorlds) Create(string, string) {}
func (noopWorlds) Loaded() bool          { return false }
func (noopWorlds) CurrentName() string   { return "" }

type noopTimer struct{}

func (noopTimer) Arm(string)               {}
func (noopTimer) Complete() (int64, int64) { return 0, 0 }

// New starts a session actor. Close it to stop the loop.
func New(parent context.Context, cfg Config, deps Deps, log *zap.Logger) *Session {
	if cfg.CountdownFallback <= 0 {
		cfg.CountdownFallback = 10 * time.Second
	}
	if cfg.ReconnectCooldown <= 0 {
		cfg.ReconnectCooldown = 1500 * time.Millisecond
	}
	if deps.Worlds == nil {
		deps.Worlds = noopWorlds{}
	}
	if deps.Timer == nil {
		deps.Timer = noopTimer{}
	}
	if deps.Chat == nil {
		deps.Chat = func(string) {}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:  make(chan msg, 64),
		cfg:    cfg,
		deps:   deps,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		now:    deps.Clock,
		st: state{
			uri:      cfg.ServerURI,
			nameByID: make(map[string]string),
			finishes: make(map[string]rank.Record),
		},
	}
	go s.loop()
	return s
}

// Connect is idempotent: a no-op while already connected or connecting.
func (s *Session) Connect()                 { s.post(cmdConnect{}) }
func (s *Session) Disconnect()              { s.post(cmdDisconnect{}) }
func (s *Session) CreateRoom()              { s.post(cmdCreateRoom{}) }
func (s *Session) JoinRoom(code string)     { s.post(cmdJoinRoom{Code: code}) }
func (s *Session) LeaveRoom()               { s.post(cmdLeaveRoom{}) }
func (s *Session) RollMatch()               { s.post(cmdRollMatch{}) }
func (s *Session) RequestStart()            { s.post(cmdRequestStart{}) }
func (s *Session) CancelStart()             { s.post(cmdCancelStart{}) }
func (s *Session) FinishRun(r FinishReason) { s.post(cmdFinishRun{Reason: r}) }
func (s *Session) CheckHealth()             { s.post(cmdCheckHealth{}) }
func (s *Session) SetServerURI(uri string)  { s.post(cmdSetServerURI{URI: uri}) }

// Tick runs the once-per-frame duties: reconnect under cooldown, request
// world creation when the countdown elapses, arm the timer when the world
// comes up, and poll the inventory for the target item.
func (s *Session) Tick() { s.post(cmdTick{}) }

// View returns a consistent snapshot of session state. Safe to call from
// any goroutine.
func (s *Session) View() View {
	reply := make(chan View, 1)
	s.post(getView{Reply: reply})
	select {
	case v := <-reply:
		return v
	case <-s.ctx.Done():
		return View{ConnectionName: ConnDisconnected.String(), StateName: StateIdle.String(), Health: health.StatusUnknown.String()}
	}
}

func (s *Session) Close() {
	s.post(shutdown{})
}

func (s *Session) post(m msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

// sink marshals transport events back onto the actor loop.
func (s *Session) sink(ev transport.Event) {
	select {
	case s.inbox <- transportEvent{Ev: ev}:
	case <-s.ctx.Done():
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case m := <-s.inbox:
			switch mm := m.(type) {
			case cmdConnect:
				s.connect()
			case cmdDisconnect:
				s.disconnect()
			case cmdCreateRoom:
				s.createRoom()
			case cmdJoinRoom:
				s.joinRoom(mm.Code)
			case cmdLeaveRoom:
				s.leaveRoom()
			case cmdRollMatch:
				s.rollMatch()
			case cmdRequestStart:
				s.requestStart()
			case cmdCancelStart:
				s.cancelStart()
			case cmdFinishRun:
				s.finishRun(mm.Reason)
			case cmdTick:
				s.tick()
			case cmdCheckHealth:
				s.checkHealth()
			case cmdSetServerURI:
				s.setServerURI(mm.URI)
			case getView:
				mm.Reply <- s.view()
			case transportEvent:
				s.handleTransport(mm.Ev)
			case healthResult:
				s.st.health = mm.Status
			case shutdown:
				s.teardown()
				return
			}
		}
	}
}

func (s *Session) teardown() {
	if s.st.conn != nil {
		s.st.conn.Close(1000, "client shutdown")
		s.st.conn = nil
	}
	s.cancel()
}

// connect starts a dial attempt unless one is live or in flight. Each
// attempt gets a fresh connection id; events tagged with an older id are
// discarded in handleTransport.
func (s *Session) connect() {
	if s.st.connStatus == ConnConnected && s.st.conn != nil {
		s.ensureHello()
		return
	}
	if s.st.connStatus == ConnConnecting {
		return
	}

	s.st.lastError = ""
	s.st.connStatus = ConnConnecting
	s.st.connID++
	s.log.Info("connecting", zap.String("uri", s.st.uri), zap.Uint64("conn", s.st.connID))
	s.deps.Dialer.Dial(s.ctx, s.st.uri, s.st.connID, s.sink)
}

func (s *Session) disconnect() {
	conn := s.st.conn
	s.st.conn = nil
	s.st.connID++ // orphan any in-flight events from the old connection
	s.st.connStatus = ConnDisconnected
	s.st.authenticated = false
	s.st.helloInFlight = false
	s.st.pending = nil

	if conn != nil {
		conn.Close(1000, "client disconnect")
	}
}

func (s *Session) handleTransport(ev transport.Event) {
	if ev.ConnID() != s.st.connID {
		if op, ok := ev.(transport.Opened); ok {
			op.Conn.Close(1000, "superseded")
		}
		return
	}

	switch e := ev.(type) {
	case transport.Opened:
		if s.st.connStatus != ConnConnecting {
			e.Conn.Close(1000, "superseded")
			return
		}
		s.st.conn = e.Conn
		s.st.connStatus = ConnConnected
		s.st.health = health.StatusOnline
		s.st.lastError = ""
		s.st.lastReconnectAt = time.Time{}
		s.st.authenticated = false
		s.st.helloInFlight = false
		s.log.Info("connected", zap.Uint64("conn", e.ID))
		s.ensureHello()

	case transport.Failed:
		s.onConnectionFailed(e.Err)

	case transport.Frame:
		s.handleIncoming(e.Text)

	case transport.SendFailed:
		// Re-queue at the head so flush order survives the retry.
		s.st.pending = append([]string{e.Payload}, s.st.pending...)
		s.onConnectionFailed(e.Err)
		s.connect()

	case transport.Closed:
		s.st.conn = nil
		s.st.connStatus = ConnDisconnected
		s.st.authenticated = false
		s.st.helloInFlight = false
		s.st.health = health.StatusOffline
		s.st.lastError = "disconnected: " + e.Reason
		s.log.Warn("connection closed", zap.Uint64("conn", e.ID), zap.String("reason", e.Reason))
	}
}

func (s *Session) onConnectionFailed(err error) {
	s.st.connStatus = ConnDisconnected
	s.st.conn = nil
	s.st.authenticated = false
	s.st.helloInFlight = false
	s.st.health = health.StatusOffline
	if err != nil {
		s.st.lastError = err.Error()
	} else {
		s.st.lastError = "connection failed"
	}
}

func requiresAuth(msgType string) bool {
	return msgType != protocol.TypeHello && msgType != protocol.TypePing
}

// send serializes a command and delivers it now if possible, otherwise
// queues it. Nothing but hello/ping goes out before authentication.
func (s *Session) send(cmd protocol.Command) {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		s.log.Error("encode failed", zap.String("type", cmd.Type), zap.Error(err))
		return
	}

	if s.st.connStatus != ConnConnected || s.st.conn == nil {
		s.st.pending = append(s.st.pending, payload)
		s.connect()
		return
	}
	if requiresAuth(cmd.Type) && !s.st.authenticated {
		s.st.pending = append(s.st.pending, payload)
		s.ensureHello()
		return
	}
	s.st.conn.Send(payload)
}

func (s *Session) ensureHello() {
	if s.st.authenticated || s.st.helloInFlight {
		return
	}
	if s.st.connStatus != ConnConnected || s.st.conn == nil {
		return
	}
	s.st.helloInFlight = true
	hello, err := protocol.Encode(protocol.Command{
		Type:      protocol.TypeHello,
		PlayerID:  s.cfg.PlayerID,
		Name:      s.cfg.PlayerName,
		SessionID: s.st.sessionID,
	})
	if err != nil {
		s.st.helloInFlight = false
		return
	}
	s.st.conn.Send(hello)
}

func (s *Session) flushPending() {
	if s.st.connStatus != ConnConnected || s.st.conn == nil || !s.st.authenticated {
		return
	}
	for len(s.st.pending) > 0 {
		payload := s.st.pending[0]
		s.st.pending = s.st.pending[1:]
		s.st.conn.Send(payload)
	}
}

func (s *Session) createRoom() {
	if s.st.race != StateIdle {
		return
	}
	s.st.pending = nil
	s.connect()
	s.send(protocol.Command{Type: protocol.TypeCreateRoom})
}

func (s *Session) joinRoom(code string) {
	if s.st.race != StateIdle {
		return
	}
	normalized := protocol.NormalizeRoomCode(code)
	if normalized == "" {
		return
	}
	s.st.pending = nil
	s.connect()
	s.send(protocol.Command{Type: protocol.TypeJoinRoom, RoomCode: normalized})
}

func (s *Session) leaveRoom() {
	if s.st.race == StateIdle {
		return
	}
	s.send(protocol.Command{Type: protocol.TypeLeaveRoom})
	s.resetToIdle()
}

func (s *Session) rollMatch() {
	if s.st.race != StateLobby && s.st.race != StateFinished {
		return
	}
	if !s.isLeader() {
		return
	}
	s.send(protocol.Command{Type: protocol.TypeRollMatch})
}

// requestStart validates every precondition locally before any network
// I/O. A rejection only sets last-error.
func (s *Session) requestStart() {
	if s.st.race != StateLobby && s.st.race != StateFinished {
		s.st.lastError = fmt.Sprintf("cannot start: state=%s", s.st.race)
		return
	}
	if !s.isLeader() {
		s.st.lastError = "only the leader can start"
		return
	}
	if s.deps.Worlds.CurrentName() != "" {
		s.st.lastError = "leave the world before starting"
		return
	}
	if !s.st.hasPendingMatch {
		s.st.lastError = "roll an item first"
		return
	}

	s.st.lastError = ""
	s.send(protocol.Command{Type: protocol.TypeStartMatch})
}

// cancelStart optimistically reverts to Lobby; the next snapshot is
// authoritative and may re-assert Starting if the server rejected the
// cancel.
func (s *Session) cancelStart() {
	if s.st.race != StateStarting {
		return
	}

	s.send(protocol.Command{Type: protocol.TypeCancelStart})

	s.st.race = StateLobby
	s.st.hasPendingMatch = true
	s.st.matchID = ""
	s.st.startAt = time.Time{}
	s.st.worldRequested = false
	s.st.finishLatched = false
	s.st.lastError = ""
}

// finishRun records and reports the local result. The latch makes it
// idempotent per match; a second call is silently ignored, as is a call
// from a world that is not the one created for this race.
func (s *Session) finishRun(reason FinishReason) {
	if s.st.race != StateRunning {
		return
	}
	if s.st.finishLatched {
		return
	}
	s.st.finishLatched = true

	current := s.deps.Worlds.CurrentName()
	if s.st.activeWorldName == "" || current != s.st.activeWorldName {
		s.deps.Chat("Finish ignored: not in race world")
		return
	}

	igt, rta := s.deps.Timer.Complete()

	if reason == FinishDeath {
		s.st.putFinish(rank.Record{
			PlayerID:   s.cfg.PlayerID,
			Name:       s.cfg.PlayerName,
			IGTMs:      igt,
			RTAMs:      rta,
			Eliminated: true,
		})
		s.send(protocol.Command{Type: protocol.TypeDeath})
		s.deps.Chat("You died! Race over.")
		return
	}

	s.st.putFinish(rank.Record{
		PlayerID: s.cfg.PlayerID,
		Name:     s.cfg.PlayerName,
		IGTMs:    igt,
		RTAMs:    rta,
	})
	s.send(protocol.Command{Type: protocol.TypeFinish, RTTMs: rta, IGTMs: igt})
	s.deps.Chat(fmt.Sprintf("You found the target item! Time: %s", rank.FormatMillis(rta)))
}

func (s *Session) tick() {
	now := s.now()

	if s.st.race != StateIdle && s.st.connStatus == ConnDisconnected {
		if now.Sub(s.st.lastReconnectAt) >= s.cfg.ReconnectCooldown {
			s.st.lastReconnectAt = now
			s.connect()
		}
	}

	if s.st.race == StateStarting && !s.st.worldRequested && !s.st.startAt.IsZero() && !now.Before(s.st.startAt) {
		s.st.worldRequested = true
		s.startWorld()
	}

	if s.st.race == StateStarting && s.st.worldRequested && s.deps.Worlds.Loaded() {
		s.st.race = StateRunning
		s.armTimer()
	}

	if s.st.race == StateRunning && !s.st.finishLatched && s.st.targetItem != "" &&
		s.deps.Inventory != nil && s.deps.Inventory.Holds(s.st.targetItem) {
		s.finishRun(FinishTargetObtained)
	}
}

func (s *Session) startWorld() {
	if s.st.seed == "" || s.st.targetItem == "" {
		s.st.lastError = "missing start parameters"
		s.st.race = StateLobby
		s.st.worldRequested = false
		return
	}
	if s.deps.Worlds.CurrentName() != "" {
		s.st.lastError = "must be in the menu to start the race world"
		s.st.race = StateLobby
		s.st.worldRequested = false
		return
	}

	dir := worldDirName(s.st.roomCode, s.now())
	s.st.pendingWorldName = dir
	s.st.activeWorldName = dir
	s.log.Info("creating race world", zap.String("dir", dir), zap.String("seed", s.st.seed))
	s.deps.Worlds.Create(dir, s.st.seed)
}

func (s *Session) armTimer() {
	if s.st.timerArmed {
		return
	}
	s.st.timerArmed = true
	s.deps.Timer.Arm(s.st.pendingWorldName)
}

func (s *Session) checkHealth() {
	if s.deps.Prober == nil {
		return
	}
	started := s.deps.Prober.Probe(s.ctx, s.st.uri, func(st health.Status) {
		s.post(healthResult{Status: st})
	})
	if started {
		s.st.health = health.StatusChecking
	}
}

func (s *Session) setServerURI(raw string) {
	normalized, err := config.NormalizeServerURI(raw)
	if err != nil {
		s.st.lastError = err.Error()
		return
	}
	s.st.uri = normalized
	s.st.health = health.StatusUnknown
	s.st.lastError = ""

	if s.st.connStatus == ConnConnected || s.st.connStatus == ConnConnecting {
		s.disconnect()
	}
}

func (s *Session) isLeader() bool {
	if s.st.leaderID != "" {
		return s.st.leaderID == s.cfg.PlayerID
	}
	if len(s.st.players) == 0 {
		return true
	}
	return s.st.players[0].ID == s.cfg.PlayerID
}

func (s *Session) resetToIdle() {
	s.st.race = StateIdle
	s.st.roomCode = ""
	s.st.leaderID = ""
	s.st.players = nil
	s.st.nameByID = make(map[string]string)
	s.st.finishes = make(map[string]rank.Record)
	s.st.finishOrder = nil
	s.st.pending = nil

	s.st.hasPendingMatch = false
	s.st.matchID = ""
	s.st.seed = ""
	s.st.targetItem = ""

	s.st.pendingWorldName = ""
	s.st.activeWorldName = ""

	s.st.startAt = time.Time{}
	s.st.worldRequested = false
	s.st.timerArmed = false
	s.st.finishLatched = false
	s.st.announcedWinner = false

	s.st.lastReconnectAt = time.Time{}
}

func (s *Session) view() View {
	players := make([]Player, len(s.st.players))
	copy(players, s.st.players)

	countdown := 0
	if s.st.race == StateStarting && !s.st.startAt.IsZero() {
		remaining := s.st.startAt.Sub(s.now())
		if remaining > 0 {
			countdown = int((remaining + time.Second - 1) / time.Second)
		}
	}

	return View{
		Connection:       s.st.connStatus,
		ConnectionName:   s.st.connStatus.String(),
		Health:           s.st.health.String(),
		Authenticated:    s.st.authenticated,
		State:            s.st.race,
		StateName:        s.st.race.String(),
		RoomCode:         s.st.roomCode,
		Players:          players,
		HasPendingMatch:  s.st.hasPendingMatch,
		TargetItem:       s.st.targetItem,
		Seed:             s.st.seed,
		CountdownSeconds: countdown,
		Leaderboard:      rank.Standings(s.st.records()),
		LastError:        s.st.lastError,
	}
}

func worldDirName(roomCode string, now time.Time) string {
	code := "race"
	if roomCode != "" {
		code = strings.ToLower(roomCode)
	}
	return fmt.Sprintf("item_hunt_%s_%d", code, now.Unix())
}
