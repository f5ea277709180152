package room

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"agile-quiz-service/internal/clock"
	"agile-quiz-service/internal/domain"
)

// Liveness mirrors room lifecycle to an external marker store (Redis) so
// other instances can see which codes are live. Best effort; may be nil.
type Liveness interface {
	MarkOpen(ctx context.Context, roomID string)
	MarkClosed(ctx context.Context, roomID string)
}

// Coordinator owns the room table. Rooms are fully independent; the only
// shared state here is the id lookup, and closed ids are remembered so
// callers can tell "room closed" apart from "room unknown".
type Coordinator struct {
	clk      clock.Clock
	logger   *slog.Logger
	liveness Liveness

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed map[string]struct{}
}

func NewCoordinator(clk clock.Clock, logger *slog.Logger, liveness Liveness) *Coordinator {
	if clk == nil {
		clk = clock.Wall{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		clk:      clk,
		logger:   logger,
		liveness: liveness,
		rooms:    make(map[string]*Room),
		closed:   make(map[string]struct{}),
	}
}

// Open creates a room with the host joined and returns it. The room code is
// short so it can be shared by hand.
func (c *Coordinator) Open(ctx context.Context, hostID, hostName string, set domain.QuestionSet) (*Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	roomID := c.newCodeLocked()
	r, err := New(Config{
		RoomID:   roomID,
		HostID:   hostID,
		HostName: hostName,
		Set:      set,
		Clock:    c.clk,
		Logger:   c.logger,
		OnClosed: c.onClosed,
	})
	if err != nil {
		return nil, err
	}
	c.rooms[roomID] = r
	if c.liveness != nil {
		c.liveness.MarkOpen(ctx, roomID)
	}
	c.logger.Info("room opened", "room_id", roomID, "host_id", hostID, "questions", len(set.Questions))
	return r, nil
}

// Get resolves a room id, distinguishing closed rooms from unknown ones.
func (c *Coordinator) Get(roomID string) (*Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.rooms[roomID]; ok {
		return r, nil
	}
	if _, ok := c.closed[roomID]; ok {
		return nil, domain.ErrRoomClosed
	}
	return nil, domain.ErrRoomUnknown
}

// onClosed runs on the closing room's event loop.
func (c *Coordinator) onClosed(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.closed[roomID] = struct{}{}
	c.mu.Unlock()
	if c.liveness != nil {
		c.liveness.MarkClosed(context.Background(), roomID)
	}
}

// newCodeLocked generates a six-character shareable room code.
func (c *Coordinator) newCodeLocked() string {
	for {
		code := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
		if _, taken := c.rooms[code]; taken {
			continue
		}
		if _, wasUsed := c.closed[code]; wasUsed {
			continue
		}
		return code
	}
}
