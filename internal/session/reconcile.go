package session

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Flomik10002/ItemRacePlatform/internal/health"
	"github.com/Flomik10002/ItemRacePlatform/internal/protocol"
	"github.com/Flomik10002/ItemRacePlatform/internal/rank"
)

// handleIncoming processes one complete inbound frame on the actor loop.
// Undecodable frames and unknown types are dropped without side effects.
func (s *Session) handleIncoming(raw string) {
	env, ok := protocol.Decode(raw)
	if !ok {
		return
	}

	switch env.Type {
	case protocol.TypeWelcome:
		if env.SessionID != "" {
			s.st.sessionID = env.SessionID
		}
		s.st.authenticated = true
		s.st.helloInFlight = false
		s.st.lastError = ""
		s.st.health = health.StatusOnline
		s.flushPending()
		s.send(protocol.Command{Type: protocol.TypeSyncState})

	case protocol.TypePong:
		s.st.health = health.StatusOnline

	case protocol.TypeAck:
		// State snapshots are the source of truth; acks are informational.

	case protocol.TypeError:
		s.handleServerError(env.Code, env.Message)

	case protocol.TypeState:
		if env.Snapshot != nil {
			s.applySnapshot(env.Snapshot)
		}

	default:
		s.log.Debug("ignoring unknown message", zap.String("type", env.Type))
	}
}

// handleServerError maps protocol-level rejections to recovery actions.
// Unrecognized codes only update last-error.
func (s *Session) handleServerError(code, message string) {
	if message != "" {
		s.st.lastError = message
	} else {
		s.st.lastError = "unknown server error"
	}

	switch code {
	case protocol.CodeNotAuthenticated:
		if s.st.connStatus == ConnConnected && s.st.conn != nil {
			s.st.authenticated = false
			s.st.helloInFlight = false
			s.ensureHello()
		}
	case protocol.CodeAlreadyAuthenticated:
		if s.st.connStatus == ConnConnected {
			s.st.authenticated = true
			s.st.helloInFlight = false
			s.st.lastError = ""
			s.flushPending()
			s.send(protocol.Command{Type: protocol.TypeSyncState})
		}
	case protocol.CodePlayerNotInRoom, protocol.CodeRoomNotFound:
		s.resetToIdle()
	}
}

// applySnapshot merges an authoritative server snapshot into local state.
// The server-declared room replaces the local player list wholesale; the
// race state is re-derived from the match section plus local world
// readiness.
func (s *Session) applySnapshot(snap *protocol.Snapshot) {
	if snap.Self != nil && snap.Self.ConnectionState == protocol.ConnStateConnected {
		s.st.connStatus = ConnConnected
		s.st.health = health.StatusOnline
	}

	if snap.Room == nil {
		s.resetToIdle()
		return
	}
	room := snap.Room

	s.st.roomCode = protocol.NormalizeRoomCode(room.Code)
	s.st.leaderID = room.LeaderID
	s.applyRoomPlayers(room.Players)

	s.st.hasPendingMatch = room.PendingMatch != nil
	if pm := room.PendingMatch; pm != nil {
		s.applyTargetItem(pm.TargetItem)
		if seed := pm.Seed.Int64(); seed != 0 {
			s.st.seed = strconv.FormatInt(seed, 10)
		}
	}

	if room.CurrentMatch == nil || !room.CurrentMatch.IsActive {
		if !s.st.hasPendingMatch {
			s.st.seed = ""
			s.st.targetItem = ""
		}
		s.st.matchID = ""
		s.st.startAt = time.Time{}
		s.st.worldRequested = false
		s.st.timerArmed = false
		s.st.finishLatched = false

		if len(s.st.finishOrder) > 0 {
			s.st.race = StateFinished
		} else {
			s.st.race = StateLobby
		}
		return
	}

	s.applyActiveMatch(room.CurrentMatch)
}

func (s *Session) applyRoomPlayers(declared []protocol.RoomPlayer) {
	s.st.players = s.st.players[:0]
	seen := make(map[string]bool, len(declared))

	for _, p := range declared {
		if p.PlayerID == "" || seen[p.PlayerID] {
			continue
		}
		seen[p.PlayerID] = true

		name := p.Name
		if name == "" {
			name = p.PlayerID
		}
		s.st.nameByID[p.PlayerID] = name

		s.st.players = append(s.st.players, Player{
			ID:     p.PlayerID,
			Name:   name,
			Ready:  p.ConnectionState == protocol.ConnStateConnected,
			Leader: p.PlayerID == s.st.leaderID,
		})
	}
}

func (s *Session) applyTargetItem(id string) {
	if id == "" {
		return
	}
	if !protocol.ValidItemID(id) {
		s.st.lastError = "invalid target item from server: " + id
		return
	}
	s.st.targetItem = id
}

// applyActiveMatch classifies the match from per-player statuses. A new
// match id resets the finish records, the finish latch, and the
// world/timer flags together so nothing stale leaks into the new race.
func (s *Session) applyActiveMatch(match *protocol.Match) {
	if match.ID == "" {
		return
	}

	if match.ID != s.st.matchID {
		s.st.matchID = match.ID
		s.st.finishes = make(map[string]rank.Record)
		s.st.finishOrder = nil
		s.st.finishLatched = false
		s.st.timerArmed = false
		s.st.worldRequested = false
		s.st.announcedWinner = false
		s.st.startAt = s.now().Add(s.cfg.CountdownFallback)
		s.st.pendingWorldName = ""
		s.st.activeWorldName = ""
		s.log.Info("match start confirmed", zap.String("match", match.ID))
	}

	if seed := match.Seed.Int64(); seed != 0 {
		s.st.seed = strconv.FormatInt(seed, 10)
	}
	s.applyTargetItem(match.TargetItem)

	selfStatus := ""
	terminal := 0
	total := 0

	for _, p := range match.Players {
		if p.PlayerID == "" || p.Status == "" {
			continue
		}
		total++

		name := s.st.nameByID[p.PlayerID]
		if name == "" {
			name = p.PlayerID
		}
		_, wasTracked := s.st.finishes[p.PlayerID]

		switch p.Status {
		case protocol.StatusFinished:
			var rtt, igt int64
			if p.Result != nil {
				rtt = p.Result.RTTMs.Int64()
				igt = p.Result.IGTMs.Int64()
			}
			s.st.putFinish(rank.Record{PlayerID: p.PlayerID, Name: name, IGTMs: igt, RTAMs: rtt})
			terminal++

			if !wasTracked && p.PlayerID != s.cfg.PlayerID {
				s.deps.Chat(fmt.Sprintf("%s found the item! (%s)", name, rank.FormatMillis(rtt)))
			}

		case protocol.StatusDeath, protocol.StatusLeave:
			s.st.putFinish(rank.Record{
				PlayerID:   p.PlayerID,
				Name:       name,
				IGTMs:      math.MaxInt64,
				RTAMs:      math.MaxInt64,
				Eliminated: true,
			})
			terminal++

			if !wasTracked && p.PlayerID != s.cfg.PlayerID {
				s.deps.Chat(fmt.Sprintf("%s was eliminated", name))
			}

		case protocol.StatusRunning:
			// Server rolled a result back; drop any cached record.
			s.st.dropFinish(p.PlayerID)
		}

		if p.PlayerID == s.cfg.PlayerID {
			selfStatus = p.Status
		}
	}

	if total > 0 && terminal == total && !s.st.announcedWinner {
		if winner, ok := rank.Winner(s.st.records()); ok {
			s.st.announcedWinner = true
			s.deps.Chat(fmt.Sprintf("Winner: %s", winner.Name))
			s.deps.Chat(fmt.Sprintf("IGT %s / RTA %s", rank.FormatMillis(winner.IGTMs), rank.FormatMillis(winner.RTAMs)))
		}
	}

	switch {
	case selfStatus == "":
		s.st.race = StateLobby

	case selfStatus == protocol.StatusRunning:
		if s.st.worldRequested && s.deps.Worlds.Loaded() {
			s.st.race = StateRunning
			s.armTimer()
		} else if s.st.race != StateRunning {
			s.st.race = StateStarting
		}

	default:
		s.st.race = StateFinished
		s.st.startAt = time.Time{}
		s.st.worldRequested = false
	}
}
