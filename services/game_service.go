// services/game_service.go
package services

import (
	"errors"
	"strings"
	"time"

	"github.com/wfunc/tictactoe/board"
	"github.com/wfunc/tictactoe/broadcast"
	"github.com/wfunc/tictactoe/logger"
	"github.com/wfunc/tictactoe/monitor"
	"github.com/wfunc/tictactoe/network"
	"github.com/wfunc/tictactoe/room"
	"github.com/wfunc/tictactoe/session"
	"github.com/wfunc/tictactoe/timer"
)

var ErrUnknownMessage = errors.New("unknown message type")

// 返回给客户端的错误信息
const (
	MsgRoomNotFound       = "Room not found"
	MsgRoomFull           = "Room full"
	MsgNotYourTurn        = "Not your turn"
	MsgCellTaken          = "Cell taken"
	MsgInvalidPosition    = "Invalid position"
	MsgGameOver           = "Game over"
	MsgWaitingForOpponent = "Waiting for opponent"
	MsgAlreadyInRoom      = "Already in a room"
	MsgServerBusy         = "Server busy"
	MsgInternal           = "Internal error"
)

// Recorder receives every committed change for the durable mirror.
// Implementations must not block.
type Recorder interface {
	RoomCreated(snap room.Snapshot)
	PlayerJoined(snap room.Snapshot, player room.Player)
	MoveMade(out room.MoveOutcome)
	Restarted(snap room.Snapshot)
	Forget(code string)
}

// GameService runs one decoded client message against the room store.
// Binding, broadcast and mirror scheduling all happen inside the store's
// commit callback, so a room's events and mirror writes follow its
// commit order.
type GameService struct {
	store       *room.Store
	sessions    *session.Manager
	broadcaster broadcast.Broadcaster
	recorder    Recorder
	monitor     *monitor.Monitor
}

func NewGameService(store *room.Store, sessions *session.Manager, broadcaster broadcast.Broadcaster, recorder Recorder, mon *monitor.Monitor) *GameService {
	return &GameService{
		store:       store,
		sessions:    sessions,
		broadcaster: broadcaster,
		recorder:    recorder,
		monitor:     mon,
	}
}

// Handle routes req by type. Unknown types return ErrUnknownMessage and
// produce no reply.
func (s *GameService) Handle(sess *session.Session, req network.Request) error {
	switch req.Type {
	case network.MsgTypeCreateRoom:
		s.CreateRoom(sess, req.Username)
	case network.MsgTypeJoinRoom:
		s.JoinRoom(sess, req.RoomCode, req.Username)
	case network.MsgTypeMove:
		code, playerID := target(sess, req)
		position := -1
		if req.Position != nil {
			position = *req.Position
		}
		s.Move(sess, code, playerID, position)
	case network.MsgTypeRestart:
		code, playerID := target(sess, req)
		s.Restart(sess, code, playerID)
	default:
		return ErrUnknownMessage
	}
	return nil
}

// target falls back to the connection's binding for fields the client
// left out.
func target(sess *session.Session, req network.Request) (string, string) {
	code, playerID := sess.Binding()
	if req.RoomCode != "" {
		code = normalizeCode(req.RoomCode)
	}
	if req.PlayerID != "" {
		playerID = req.PlayerID
	}
	return code, playerID
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *GameService) CreateRoom(sess *session.Session, username string) {
	if sess.Bound() {
		s.reply(sess, MsgAlreadyInRoom)
		return
	}

	_, _, err := s.store.CreateRoom(username, func(snap room.Snapshot, player room.Player) {
		s.bind(sess, snap.Code, player.ID)
		if err := s.broadcaster.SendTo(sess, network.RoomCreated(snap, player)); err != nil {
			logger.Log.Debugw("room_created not delivered", "room", snap.Code, "conn", sess.ID, "error", err)
		}
		s.recorder.RoomCreated(snap)
		logger.Log.Infow("room created", "room", snap.Code, "player", player.ID, "conn", sess.ID)
	})
	if err != nil {
		s.fail(sess, "create_room", "", err)
		return
	}
	s.monitor.SetActiveRooms(s.store.Len())
}

// JoinRoom seats the connection as O. The room hears player_joined before
// the joiner gets its own room_joined.
func (s *GameService) JoinRoom(sess *session.Session, code, username string) {
	if sess.Bound() {
		s.reply(sess, MsgAlreadyInRoom)
		return
	}
	code = normalizeCode(code)

	_, _, err := s.store.JoinRoom(code, username, func(snap room.Snapshot, player room.Player) {
		s.bind(sess, snap.Code, player.ID)
		s.broadcast(snap.Code, network.PlayerJoined(snap, player))
		if err := s.broadcaster.SendTo(sess, network.RoomJoined(snap, player)); err != nil {
			logger.Log.Debugw("room_joined not delivered", "room", snap.Code, "conn", sess.ID, "error", err)
		}
		s.recorder.PlayerJoined(snap, player)
		logger.Log.Infow("player joined", "room", snap.Code, "player", player.ID, "conn", sess.ID)
	})
	if err != nil {
		s.fail(sess, "join_room", code, err)
	}
}

func (s *GameService) Move(sess *session.Session, code, playerID string, position int) {
	_, err := s.store.ApplyMove(code, playerID, position, func(out room.MoveOutcome) {
		s.broadcast(out.Code, network.MoveResult(out))
		s.recorder.MoveMade(out)
		if out.Kind != room.MoveApplied {
			logger.Log.Infow("game finished", "room", out.Code, "outcome", out.Kind.String(), "winner", out.WinnerID)
		}
	})
	if err != nil {
		s.fail(sess, "move", code, err)
	}
}

// Restart has no ownership check: either seated player, or anyone who
// knows the code, may reset the board.
func (s *GameService) Restart(sess *session.Session, code, requesterID string) {
	_, err := s.store.Restart(code, requesterID, func(snap room.Snapshot) {
		s.broadcast(snap.Code, network.GameRestarted(snap.CurrentTurn))
		s.recorder.Restarted(snap)
		logger.Log.Infow("game restarted", "room", snap.Code, "player", requesterID)
	})
	if err != nil {
		s.fail(sess, "restart", code, err)
	}
}

// Disconnect forgets the connection. The room it played in is untouched.
func (s *GameService) Disconnect(sess *session.Session) {
	if _, ok := s.sessions.Remove(sess.ID); !ok {
		return
	}
	code, playerID := sess.Binding()
	logger.Log.Infow("connection left", "conn", sess.ID, "room", code, "player", playerID)
}

// Reap removes rooms idle for longer than idle that no connection is
// bound to, and returns their codes.
func (s *GameService) Reap(idle time.Duration) []string {
	codes := s.store.Reap(idle, s.sessions.HasConnections)
	for _, code := range codes {
		s.recorder.Forget(code)
	}
	if len(codes) > 0 {
		s.monitor.AddRoomsReaped(len(codes))
		logger.Log.Infow("idle rooms reaped", "count", len(codes), "remaining", s.store.Len())
	}
	s.monitor.SetActiveRooms(s.store.Len())
	return codes
}

// StartReaper sweeps every interval on tm. A non-positive idle disables
// it and returns 0.
func (s *GameService) StartReaper(tm *timer.TimerManager, idle, interval time.Duration) int64 {
	if idle <= 0 || interval <= 0 {
		return 0
	}
	return tm.AddTimer(interval, interval, func() {
		s.Reap(idle)
	})
}

// bind runs under the room lock, so the connection is registered before
// anything else can broadcast to the room.
func (s *GameService) bind(sess *session.Session, code, playerID string) {
	if err := s.sessions.Bind(sess.ID, code, playerID); err != nil {
		logger.Log.Warnw("bind connection failed", "room", code, "player", playerID, "conn", sess.ID, "error", err)
	}
}

func (s *GameService) broadcast(code string, event any) {
	if err := s.broadcaster.Broadcast(code, event); err != nil {
		logger.Log.Errorw("broadcast failed", "room", code, "error", err)
	}
}

func (s *GameService) fail(sess *session.Session, op, code string, err error) {
	logger.Log.Debugw("request rejected", "type", op, "room", code, "conn", sess.ID, "error", err)
	s.reply(sess, ErrorMessage(err))
}

func (s *GameService) reply(sess *session.Session, message string) {
	if err := s.broadcaster.SendTo(sess, network.Error(message)); err != nil {
		logger.Log.Debugw("error reply not delivered", "conn", sess.ID, "error", err)
	}
}

// ErrorMessage maps a store error to the text shown to the player.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return MsgRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		return MsgRoomFull
	case errors.Is(err, room.ErrNotYourTurn):
		return MsgNotYourTurn
	case errors.Is(err, board.ErrOutOfRange):
		return MsgInvalidPosition
	case errors.Is(err, room.ErrIllegalMove):
		return MsgCellTaken
	case errors.Is(err, room.ErrGameOver):
		return MsgGameOver
	case errors.Is(err, room.ErrWaitingForOpponent):
		return MsgWaitingForOpponent
	case errors.Is(err, room.ErrCodeSpaceExhausted):
		return MsgServerBusy
	default:
		return MsgInternal
	}
}
