package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"pokemon-battle-system/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	EventBattleStarted  = "battle.started"
	EventTurnResolved   = "turn.resolved"
	EventBattleFinished = "battle.finished"
)

// Event is one notification addressed to the human participants of a battle.
type Event struct {
	Type       string    `json:"type"`
	BattleID   string    `json:"battleId"`
	Recipients []string  `json:"-"`
	Data       any       `json:"data"`
	At         time.Time `json:"at"`
}

type PlayerSummary struct {
	Slot        string  `json:"slot"`
	OwnerID     *string `json:"ownerId,omitempty"`
	DisplayName string  `json:"name"`
	IsAI        bool    `json:"isAi"`
}

type BattleStartedData struct {
	BattleID string          `json:"battleId"`
	Type     string          `json:"type"`
	Format   string          `json:"format"`
	Players  []PlayerSummary `json:"players"`
}

type TurnResolvedData struct {
	BattleID     string               `json:"battleId"`
	PlayerSlot   string               `json:"playerSlot"`
	PlayerName   string               `json:"playerName"`
	TurnNumber   int                  `json:"turnNumber"`
	LastDecision *models.TurnDecision `json:"lastDecision"`
}

type BattleFinishedData struct {
	BattleID   string  `json:"battleId"`
	WinnerID   *string `json:"winnerId"` // seat id; nil on a draw
	WinnerSlot string  `json:"winnerSlot,omitempty"`
	Reason     string  `json:"reason"`
}

// Notifier publishes battle events. Delivery is best-effort; callers log errors and move on.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, Event) error { return nil }

func battleStartedEvent(b *models.Battle) Event {
	players := make([]PlayerSummary, 0, len(b.Players))
	for _, p := range b.Players {
		players = append(players, PlayerSummary{Slot: p.Slot, OwnerID: p.OwnerID, DisplayName: p.DisplayName, IsAI: p.IsAI})
	}
	return Event{
		Type:       EventBattleStarted,
		BattleID:   b.ID,
		Recipients: b.OwnerIDs(),
		Data:       BattleStartedData{BattleID: b.ID, Type: b.Kind, Format: b.Format, Players: players},
		At:         time.Now(),
	}
}

func turnResolvedEvent(b *models.Battle, seat *models.BattlePlayer, dec *models.TurnDecision) Event {
	return Event{
		Type:       EventTurnResolved,
		BattleID:   b.ID,
		Recipients: b.OwnerIDs(),
		Data: TurnResolvedData{
			BattleID:     b.ID,
			PlayerSlot:   seat.Slot,
			PlayerName:   seat.DisplayName,
			TurnNumber:   dec.TurnNumber,
			LastDecision: dec,
		},
		At: time.Now(),
	}
}

func battleFinishedEvent(b *models.Battle, winner *models.BattlePlayer, reason string) Event {
	data := BattleFinishedData{BattleID: b.ID, Reason: reason}
	if winner != nil {
		data.WinnerID = &winner.ID
		data.WinnerSlot = winner.Slot
	}
	return Event{
		Type:       EventBattleFinished,
		BattleID:   b.ID,
		Recipients: b.OwnerIDs(),
		Data:       data,
		At:         time.Now(),
	}
}

// Hub fans events out to in-process subscribers keyed by user id (the SSE stream).
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{}), buffer: 16}
}

// Subscribe registers a channel for userID. The returned func unregisters and closes it.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range ev.Recipients {
		for ch := range h.subs[userID] {
			select {
			case ch <- ev:
			default:
				log.Warn().Str("component", "hub").Str("user_id", userID).Str("event", ev.Type).Msg("subscriber buffer full, event dropped")
			}
		}
	}
	return nil
}

func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

const redisChannelPrefix = "user."

// redisEnvelope is what goes over the wire; Recipients is dropped by Event's json tags.
type redisEnvelope struct {
	Event
	Recipient string `json:"recipient"`
}

// RedisNotifier publishes each event on a per-user channel "user.<id>" so every
// service instance can deliver to its own SSE subscribers.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisNotifier{rdb: rdb}, nil
}

func (n *RedisNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	for _, userID := range ev.Recipients {
		payload, err := json.Marshal(redisEnvelope{Event: ev, Recipient: userID})
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
		if err := n.rdb.Publish(ctx, redisChannelPrefix+userID, payload).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", ev.Type, err)
		}
	}
	return nil
}

// RelayTo subscribes to every user channel and forwards events into hub until ctx ends.
func (n *RedisNotifier) RelayTo(ctx context.Context, hub *Hub) {
	sub := n.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := decodeRelayed(msg.Channel, []byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("component", "redis-relay").Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}
			_ = hub.Publish(ctx, ev)
		}
	}
}

func decodeRelayed(channel string, payload []byte) (Event, error) {
	var raw struct {
		Type      string          `json:"type"`
		BattleID  string          `json:"battleId"`
		Data      json.RawMessage `json:"data"`
		At        time.Time       `json:"at"`
		Recipient string          `json:"recipient"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, err
	}
	recipient := raw.Recipient
	if recipient == "" {
		recipient = strings.TrimPrefix(channel, redisChannelPrefix)
	}
	return Event{
		Type:       raw.Type,
		BattleID:   raw.BattleID,
		Recipients: []string{recipient},
		Data:       raw.Data,
		At:         raw.At,
	}, nil
}
