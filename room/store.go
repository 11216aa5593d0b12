// room/store.go
package room

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/tictactoe/board"
	"github.com/wfunc/tictactoe/state"
)

const (
	DefaultCodeLength = 8

	maxCodeAttempts = 32
)

var ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")

// Outcome says what a successful move did to the game.
type Outcome int

const (
	MoveApplied Outcome = iota
	Won
	Draw
)

func (o Outcome) String() string {
	switch o {
	case Won:
		return "won"
	case Draw:
		return "draw"
	default:
		return "move_applied"
	}
}

// MoveOutcome describes one committed move.
type MoveOutcome struct {
	Kind             Outcome
	Code             string
	PlayerID         string
	Position         int
	Symbol           board.Symbol
	CurrentTurn      string
	WinnerID         string
	WinningPositions []int
	Room             Snapshot
}

// CodeGenerator produces candidate room codes. Collisions are retried.
type CodeGenerator func() (string, error)

// RandomCodes returns a generator of upper-case base64url codes.
func RandomCodes(length int) CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return func() (string, error) {
		buf := make([]byte, (length*3+3)/4)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		return strings.ToUpper(base64.RawURLEncoding.EncodeToString(buf)[:length]), nil
	}
}

// Option configures a Store.
type Option func(*Store)

func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Store) { s.newCode = gen }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the authoritative table of live rooms. The table lock only
// guards lookup, insert and reap; each room carries its own lock, so
// operations on different rooms never contend.
type Store struct {
	rooms   map[string]*Room
	mutex   sync.RWMutex
	newCode CodeGenerator
	newID   func() string
	now     func() time.Time
}

// NewStore 创建房间存储
func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:   make(map[string]*Room),
		newCode: RandomCodes(DefaultCodeLength),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lookup(code string) (*Room, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r, exists := s.rooms[code]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return r, nil
}

// lockRoom returns the room with its lock held. The caller must unlock it.
func (s *Store) lockRoom(code string) (*Room, error) {
	r, err := s.lookup(code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return r, nil
}

// CreateRoom allocates a fresh code and seats the creator as X. commit,
// when non-nil, runs under the room lock before any other operation can
// observe the room.
func (s *Store) CreateRoom(username string, commit func(Snapshot, Player)) (Snapshot, Player, error) {
	if username == "" {
		username = DefaultCreatorName
	}
	creator := Player{ID: s.newID(), Username: username, Symbol: board.X}

	s.mutex.Lock()
	code, err := s.freeCode()
	if err != nil {
		s.mutex.Unlock()
		return Snapshot{}, Player{}, err
	}

	r := newRoom(code, creator, s.now())
	r.mu.Lock()
	s.rooms[code] = r
	s.mutex.Unlock()
	defer r.mu.Unlock()

	snap := r.snapshot()
	if commit != nil {
		commit(snap, creator)
	}
	return snap, creator, nil
}

// freeCode must be called with the table lock held.
func (s *Store) freeCode() (string, error) {
	for range maxCodeAttempts {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		if _, taken := s.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// JoinRoom seats a second player as O and starts the game. The creator
// keeps the first move.
func (s *Store) JoinRoom(code, username string, commit func(Snapshot, Player)) (Snapshot, Player, error) {
	r, err := s.lockRoom(code)
	if err != nil {
		return Snapshot{}, Player{}, err
	}
	defer r.mu.Unlock()

	if len(r.players) >= MaxPlayers {
		return Snapshot{}, Player{}, fmt.Errorf("%w: %s", ErrRoomFull, code)
	}
	if err := r.status.Transition(state.Playing); err != nil {
		return Snapshot{}, Player{}, err
	}

	if username == "" {
		username = DefaultJoinerName
	}
	joiner := Player{ID: s.newID(), Username: username, Symbol: board.O}
	r.players = append(r.players, joiner)
	r.updatedAt = s.now()

	snap := r.snapshot()
	if commit != nil {
		commit(snap, joiner)
	}
	return snap, joiner, nil
}

// ApplyMove places the mover's symbol and judges the board. A rejected
// move leaves the room exactly as it was.
func (s *Store) ApplyMove(code, playerID string, position int, commit func(MoveOutcome)) (MoveOutcome, error) {
	r, err := s.lockRoom(code)
	if err != nil {
		return MoveOutcome{}, err
	}
	defer r.mu.Unlock()

	switch r.status.Current() {
	case state.Finished:
		return MoveOutcome{}, ErrGameOver
	case state.Waiting:
		return MoveOutcome{}, ErrWaitingForOpponent
	}

	if playerID != r.currentTurn {
		return MoveOutcome{}, ErrNotYourTurn
	}
	mover, ok := r.playerByID(playerID)
	if !ok {
		return MoveOutcome{}, ErrNotYourTurn
	}

	cells, err := board.Apply(r.cells, position, mover.Symbol)
	if err != nil {
		return MoveOutcome{}, fmt.Errorf("%w: %w", ErrIllegalMove, err)
	}

	out := MoveOutcome{
		Kind:     MoveApplied,
		Code:     r.code,
		PlayerID: mover.ID,
		Position: position,
		Symbol:   mover.Symbol,
	}

	res := board.Evaluate(cells)
	switch res.Kind {
	case board.Won, board.Draw:
		if err := r.status.Transition(state.Finished); err != nil {
			return MoveOutcome{}, err
		}
		if res.Kind == board.Won {
			out.Kind = Won
			out.WinningPositions = res.Triple[:]
			r.winnerID = mover.ID
		} else {
			out.Kind = Draw
		}
	default:
		if opponent, ok := r.opponentOf(mover.ID); ok {
			r.currentTurn = opponent.ID
		}
	}

	r.cells = cells
	r.updatedAt = s.now()

	out.CurrentTurn = r.currentTurn
	out.WinnerID = r.winnerID
	out.Room = r.snapshot()
	if commit != nil {
		commit(out)
	}
	return out, nil
}

// Restart clears the board and hands the first move back to the creator.
// Either player may ask for it, at any status; the room only returns to
// playing when both seats are taken.
func (s *Store) Restart(code, requesterID string, commit func(Snapshot)) (Snapshot, error) {
	r, err := s.lockRoom(code)
	if err != nil {
		return Snapshot{}, err
	}
	defer r.mu.Unlock()

	target := state.Playing
	if len(r.players) < MaxPlayers {
		target = state.Waiting
	}
	if err := r.status.Transition(target); err != nil {
		return Snapshot{}, err
	}

	r.cells = board.Cells{}
	r.winnerID = ""
	r.currentTurn = r.players[0].ID
	r.updatedAt = s.now()

	snap := r.snapshot()
	if commit != nil {
		commit(snap)
	}
	return snap, nil
}

// AttachID records the durable identifier once the mirror confirms the
// room. It never overwrites an existing id.
func (s *Store) AttachID(code, id string) bool {
	r, err := s.lockRoom(code)
	if err != nil {
		return false
	}
	defer r.mu.Unlock()

	if r.id != "" {
		return false
	}
	r.id = id
	return true
}

// Get 获取房间快照
func (s *Store) Get(code string) (Snapshot, bool) {
	r, err := s.lockRoom(code)
	if err != nil {
		return Snapshot{}, false
	}
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.rooms)
}

// Reap removes rooms untouched for longer than idle, skipping those for
// which inUse reports live connections. It returns the removed codes.
func (s *Store) Reap(idle time.Duration, inUse func(code string) bool) []string {
	cutoff := s.now().Add(-idle)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var removed []string
	for code, r := range s.rooms {
		if inUse != nil && inUse(code) {
			continue
		}
		r.mu.Lock()
		if r.updatedAt.Before(cutoff) {
			r.removed = true
			delete(s.rooms, code)
			removed = append(removed, code)
		}
		r.mu.Unlock()
	}
	return removed
}
