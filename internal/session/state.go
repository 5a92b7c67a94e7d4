package session

import (
	"context"
	"time"

	"github.com/Flomik10002/ItemRacePlatform/internal/health"
	"github.com/Flomik10002/ItemRacePlatform/internal/rank"
	"github.com/Flomik10002/ItemRacePlatform/internal/transport"
)

// RaceState is the local race lifecycle derived from server snapshots and
// local world readiness.
type RaceState int

const (
	// StateIdle means no room joined.
	StateIdle RaceState = iota
	// StateLobby means in a room with no active match.
	StateLobby
	// StateStarting means the server confirmed a match and the local
	// countdown is ticking toward the scheduled start instant.
	StateStarting
	// StateRunning means the local world is live and the timer is armed.
	StateRunning
	// StateFinished means the match ended with results available, still
	// in the room.
	StateFinished
)

func (s RaceState) String() string {
	switch s {
	case StateLobby:
		return "LOBBY"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateFinished:
		return "FINISHED"
	default:
		return "IDLE"
	}
}

type ConnStatus int

const (
	ConnDisconnected ConnStatus = iota
	ConnConnecting
	ConnConnected
)

func (c ConnStatus) String() string {
	switch c {
	case ConnConnecting:
		return "CONNECTING"
	case ConnConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// FinishReason says why the local run ended.
type FinishReason int

const (
	FinishTargetObtained FinishReason = iota
	FinishDeath
)

// Player is one room member as last declared by the server.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Leader bool   `json:"leader"`
}

// View is an immutable snapshot of session state handed to the UI/tick
// caller. Slices are copies; mutating them has no effect on the session.
type View struct {
	Connection       ConnStatus   `json:"-"`
	ConnectionName   string       `json:"connection"`
	Health           string       `json:"health"`
	Authenticated    bool         `json:"authenticated"`
	State            RaceState    `json:"-"`
	StateName        string       `json:"state"`
	RoomCode         string       `json:"roomCode"`
	Players          []Player     `json:"players"`
	HasPendingMatch  bool         `json:"hasPendingMatch"`
	TargetItem       string       `json:"targetItem,omitempty"`
	Seed             string       `json:"seed,omitempty"`
	CountdownSeconds int          `json:"countdownSeconds"`
	Leaderboard      []rank.Entry `json:"leaderboard,omitempty"`
	LastError        string       `json:"lastError,omitempty"`
}

// WorldLauncher creates and tracks the local race world. Create returns
// immediately; Loaded flips true once the world and player are ready for
// play. CurrentName is the active save directory name, empty when not in
// a world.
type WorldLauncher interface {
	Create(dirName, seed string)
	Loaded() bool
	CurrentName() string
}

// RunTimer is the run timer collaborator. Arm starts timing for the named
// world; Complete stops it and reports elapsed in-game and real time in
// milliseconds.
type RunTimer interface {
	Arm(worldName string)
	Complete() (igtMs, rtaMs int64)
}

// Inventory answers the "holds target item" predicate, polled once per
// tick while the race is running.
type Inventory interface {
	Holds(itemID string) bool
}

// ChatSink displays a message to the local player. Fire and forget.
type ChatSink func(text string)

// HealthProber matches *health.Prober.
type HealthProber interface {
	Probe(ctx context.Context, uri string, report func(health.Status)) bool
}

// Config is the session's tunable surface.
type Config struct {
	ServerURI         string
	PlayerID          string
	PlayerName        string
	CountdownFallback time.Duration
	ReconnectCooldown time.Duration
}

// Deps are the session's collaborators. Dialer is required; the rest fall
// back to no-ops so a headless session stays usable in tests.
type Deps struct {
	Dialer    transport.Dialer
	Prober    HealthProber
	Worlds    WorldLauncher
	Timer     RunTimer
	Inventory Inventory
	Chat      ChatSink

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// state is everything the actor goroutine owns. Nothing outside the loop
// reads or writes it.
type state struct {
	uri string

	conn       transport.Conn
	connID     uint64
	connStatus ConnStatus
	health     health.Status

	authenticated bool
	helloInFlight bool
	sessionID     string
	pending       []string

	lastError string

	race     RaceState
	roomCode string
	leaderID string
	players  []Player
	nameByID map[string]string

	finishes    map[string]rank.Record
	finishOrder []string

	hasPendingMatch bool
	matchID         string
	seed            string
	targetItem      string

	startAt         time.Time
	worldRequested  bool
	timerArmed      bool
	finishLatched   bool
	announcedWinner bool

	pendingWorldName string
	activeWorldName  string

	lastReconnectAt time.Time
}

func (st *state) records() []rank.Record {
	if len(st.finishOrder) == 0 {
		return nil
	}
	out := make([]rank.Record, 0, len(st.finishOrder))
	for _, id := range st.finishOrder {
		if r, ok := st.finishes[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (st *state) putFinish(r rank.Record) (wasTracked bool) {
	if _, wasTracked = st.finishes[r.PlayerID]; !wasTracked {
		st.finishOrder = append(st.finishOrder, r.PlayerID)
	}
	st.finishes[r.PlayerID] = r
	return wasTracked
}

func (st *state) dropFinish(playerID string) {
	if _, ok := st.finishes[playerID]; !ok {
		return
	}
	delete(st.finishes, playerID)
	for i, id := range st.finishOrder {
		if id == playerID {
			st.finishOrder = append(st.finishOrder[:i], st.finishOrder[i+1:]...)
			break
		}
	}
}
