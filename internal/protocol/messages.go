package protocol

// Client -> Server
// hello:
//   playerId: string
//   name: string
//   sessionId: string (optional, resumes a previous session)
//
// ping: {}
// create_room: {}
//
// join_room:
//   roomCode: string (normalized: trimmed, uppercased, no spaces)
//
// leave_room / roll_match / start_match / cancel_start / sync_state / death: {}
//
// finish:
//   rttMs: number
//   igtMs: number

// Message type discriminators for outbound commands.
const (
	TypeHello       = "hello"
	TypePing        = "ping"
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeRollMatch   = "roll_match"
	TypeStartMatch  = "start_match"
	TypeCancelStart = "cancel_start"
	TypeSyncState   = "sync_state"
	TypeFinish      = "finish"
	TypeDeath       = "death"
)

// Server -> Client
// welcome:
//   sessionId: string
//
// pong: {}
// ack: { action: string } (informational; state is source of truth)
//
// error:
//   code: "NOT_AUTHENTICATED" | "ALREADY_AUTHENTICATED" | "PLAYER_NOT_IN_ROOM" | "ROOM_NOT_FOUND" | ...
//   message: string
//
// state:
//   snapshot: { self, room? }
const (
	TypeWelcome = "welcome"
	TypePong    = "pong"
	TypeAck     = "ack"
	TypeError   = "error"
	TypeState   = "state"
)

// Server error codes the client reacts to. Anything else is surfaced as
// last-error text with no state change.
const (
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	CodePlayerNotInRoom      = "PLAYER_NOT_IN_ROOM"
	CodeRoomNotFound         = "ROOM_NOT_FOUND"
)

// Per-player match statuses delivered in snapshots. FINISHED, DEATH and
// LEAVE are terminal.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusDeath    = "DEATH"
	StatusLeave    = "LEAVE"
)

// ConnStateConnected is the self/player connectionState value meaning the
// server considers that player live.
const ConnStateConnected = "CONNECTED"

// Command is an outbound client message. Fields beyond Type are set only
// for the commands that carry them.
type Command struct {
	Type      string `json:"type"`
	PlayerID  string `json:"playerId,omitempty"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	RoomCode  string `json:"roomCode,omitempty"`
	RTTMs     int64  `json:"rttMs,omitempty"`
	IGTMs     int64  `json:"igtMs,omitempty"`
}

// Envelope is a decoded inbound message. Only the fields relevant to the
// declared Type are populated; the rest stay zero.
type Envelope struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Snapshot  *Snapshot `json:"snapshot"`
}

// Snapshot is the authoritative room+match state pushed by the server. A
// nil Room means the client is not in any room.
type Snapshot struct {
	Self *Self `json:"self"`
	Room *Room `json:"room"`
}

type Self struct {
	PlayerID        string `json:"playerId"`
	Name            string `json:"name"`
	ConnectionState string `json:"connectionState"`
}

type Room struct {
	Code         string        `json:"code"`
	LeaderID     string        `json:"leaderId"`
	Players      []RoomPlayer  `json:"players"`
	PendingMatch *PendingMatch `json:"pendingMatch"`
	CurrentMatch *Match        `json:"currentMatch"`
}

type RoomPlayer struct {
	PlayerID        string `json:"playerId"`
	Name            string `json:"name"`
	ConnectionState string `json:"connectionState"`
}

type PendingMatch struct {
	TargetItem string    `json:"targetItem"`
	Seed       FlexInt64 `json:"seed"`
}

type Match struct {
	ID         string        `json:"id"`
	TargetItem string        `json:"targetItem"`
	Seed       FlexInt64     `json:"seed"`
	IsActive   bool          `json:"isActive"`
	Players    []MatchPlayer `json:"players"`
}

type MatchPlayer struct {
	PlayerID string  `json:"playerId"`
	Status   string  `json:"status"`
	Result   *Result `json:"result"`
}

type Result struct {
	RTTMs FlexInt64 `json:"rttMs"`
	IGTMs FlexInt64 `json:"igtMs"`
}
