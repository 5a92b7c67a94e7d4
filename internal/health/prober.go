// Package health checks whether a race server is reachable without
// touching the main session connection.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Flomik10002/ItemRacePlatform/internal/protocol"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusChecking
	StatusOnline
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "CHECKING"
	case StatusOnline:
		return "ONLINE"
	case StatusOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// Prober opens a short-lived independent connection, sends a ping, and
// reports Online only if a pong arrives within the timeout. At most one
// probe runs at a time; calls while one is in flight are no-ops.
type Prober struct {
	timeout  time.Duration
	log      *zap.Logger
	inFlight atomic.Bool
}

func NewProber(timeout time.Duration, log *zap.Logger) *Prober {
	return &Prober{timeout: timeout, log: log}
}

// Probe starts a probe of uri and returns immediately. The report callback
// fires exactly once, from the probe goroutine. Returns false if a probe
// was already in flight.
func (p *Prober) Probe(ctx context.Context, uri string, report func(Status)) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer p.inFlight.Store(false)
		status := p.run(ctx, uri)
		p.log.Debug("probe finished", zap.String("uri", uri), zap.Stringer("status", status))
		report(status)
	}()
	return true
}

func (p *Prober) run(ctx context.Context, uri string) Status {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ws, _, err := websocket.Dial(probeCtx, uri, nil)
	if err != nil {
		return StatusOffline
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	ping, err := protocol.Encode(protocol.Command{Type: protocol.TypePing})
	if err != nil {
		return StatusOffline
	}
	if err := ws.Write(probeCtx, websocket.MessageText, []byte(ping)); err != nil {
		return StatusOffline
	}

	// The first frame back must be the pong; anything else is a server
	// that does not speak this protocol.
	_, data, err := ws.Read(probeCtx)
	if err != nil {
		return StatusOffline
	}
	env, ok := protocol.Decode(string(data))
	if !ok || env.Type != protocol.TypePong {
		return StatusOffline
	}
	return StatusOnline
}
