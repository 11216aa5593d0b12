// broadcast/broadcast.go
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/wfunc/tictactoe/logger"
	"github.com/wfunc/tictactoe/monitor"
	"github.com/wfunc/tictactoe/session"
)

// 广播接口
type Broadcaster interface {
	Broadcast(code string, event any) error
	SendTo(sess *session.Session, event any) error
}

// Dispatcher fans events out to the connections bound to a room. Callers
// invoke it while holding the room's lock, so events reach every
// connection in commit order; Send only enqueues.
type Dispatcher struct {
	sessions *session.Manager
	monitor  *monitor.Monitor
}

func NewDispatcher(sessions *session.Manager, mon *monitor.Monitor) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		monitor:  mon,
	}
}

// Broadcast encodes event once and queues it on every connection bound to
// code. Connections that refuse it are skipped.
func (d *Dispatcher) Broadcast(code string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	for _, s := range d.sessions.ConnectionsFor(code) {
		if err := s.Send(data); err != nil {
			// 连接已关闭或缓冲区已满, 跳过
			d.monitor.IncBroadcastDropped()
			logger.Log.Debugw("broadcast skipped connection",
				"room", code, "session", s.ID, "error", err)
		}
	}
	return nil
}

// SendTo queues event on a single connection.
func (d *Dispatcher) SendTo(sess *session.Session, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := sess.Send(data); err != nil {
		d.monitor.IncBroadcastDropped()
		return err
	}
	return nil
}
