/*
Package gate contains the admission-control state machine for chat-room participation.

This file defines the Registry struct, which serves as the central coordinator:
it owns one Room context per configured room, dispatches typed host events to
them, runs the startup bootstrap (moderator elevation), and assembles the trust
snapshot for persistence. Event decisions are made serially, one event at a
time; only host round-trip continuations run concurrently, and those re-validate
state before committing.
*/
package gate

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"sogsgate/internal/app/challenge"
	"sogsgate/internal/app/host"
	"sogsgate/internal/app/identity"
	"sogsgate/internal/app/trust"
	"sogsgate/internal/configs"
	"sogsgate/internal/pkg/logx"
)

// Commander is the slice of the host channel the gate issues commands through.
type Commander interface {
	SetRoomModerator(ctx context.Context, roomToken, user string, visible bool) error
	SendMessage(ctx context.Context, msg host.SendMessage) (int64, error)
	DeleteMessage(ctx context.Context, roomToken, user string, messageID int64) error
	Reply(replyToken, action string) error
}

// Persister receives change notifications and forced-flush requests.
type Persister interface {
	NoteChange()
	Flush() error
}

// noopPersister stands in until a real persistence manager is attached.
type noopPersister struct{}

func (noopPersister) NoteChange()  {}
func (noopPersister) Flush() error { return nil }

// RoomStats summarizes one room's trust state for the admin API.
type RoomStats struct {
	Token         string `json:"token"`
	Verified      int    `json:"verified"`
	Pending       int    `json:"pending"`
	RequirePuzzle bool   `json:"requirePuzzle"`
}

// Registry coordinates all room contexts and dispatches host events to them.
type Registry struct {
	// rooms maps room token to its context. Built once at startup; immutable after.
	rooms map[string]*Room

	// store holds every trust partition, including rooms no longer configured.
	store *trust.Store

	commander Commander
	issuer    *challenge.Issuer
	persist   Persister

	// loadedSessions retains seed material for rooms absent from the
	// configuration, so a decommissioned room's identity is not lost.
	loadedSessions map[string]string

	// bootstrapped guards the one-shot startup elevation.
	mu           sync.Mutex
	bootstrapped bool

	// ctx bounds the lifetime of spawned continuations and scheduled delays.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewRegistry builds a room context for every configured room, loading trust
// state and identity seeds from the snapshot. Rooms without persisted seed
// material get a freshly generated identity.
func NewRegistry(roomConfigs map[string]configs.RoomConfig, commander Commander, issuer *challenge.Issuer, snap *trust.Snapshot) (*Registry, error) {
	ctx, cancel := context.WithCancel(context.Background())

	g := &Registry{
		rooms:          make(map[string]*Room, len(roomConfigs)),
		store:          trust.NewStore(),
		commander:      commander,
		issuer:         issuer,
		persist:        noopPersister{},
		loadedSessions: make(map[string]string),
		ctx:            ctx,
		cancel:         cancel,
		logger:         logx.Component("Registry"),
	}

	g.store.Load(snap)

	if snap != nil {
		for token, seed := range snap.Sessions {
			g.loadedSessions[token] = seed
		}
	}

	for token, cfg := range roomConfigs {
		id, err := roomIdentity(g.loadedSessions[token])
		if err != nil {
			cancel()
			return nil, err
		}

		g.rooms[token] = &Room{
			token:    token,
			cfg:      cfg,
			identity: id,
			trust:    g.store.Partition(token),
			reg:      g,
			logger:   logx.Room("Room", token),
		}

		g.logger.Info().
			Str("room_token", token).
			Bool("require_puzzle", cfg.RequirePuzzle).
			Msg("Room context created")
	}

	return g, nil
}

// roomIdentity restores an identity from persisted seed material, or generates
// a fresh one when none exists.
func roomIdentity(seedHex string) (*identity.Identity, error) {
	if seedHex == "" {
		return identity.Generate()
	}
	return identity.FromSeed(seedHex)
}

// SetPersistence attaches the persistence manager. Must be called before the
// first event is dispatched.
func (g *Registry) SetPersistence(p Persister) {
	g.persist = p
}

// Room returns the context for the given token, or nil if the room is not configured.
func (g *Registry) Room(token string) *Room {
	return g.rooms[token]
}

// HandleEvent dispatches one typed host event. Called serially by the host
// session's dispatcher; decision logic never blocks on host round-trips.
func (g *Registry) HandleEvent(ctx context.Context, ev host.Event) {
	switch ev.Type {
	case host.EventLoad:
		g.bootstrap(ev)

	case host.EventUserVisible:
		if ev.User == nil || ev.Room == nil {
			g.logger.Warn().Msg("userVisible event missing user or room")
			return
		}
		room := g.rooms[ev.Room.Token]
		if room == nil {
			// Room removed from configuration after the host last saw it.
			g.logger.Debug().Str("room_token", ev.Room.Token).Msg("Ignoring event for unconfigured room")
			return
		}
		room.handleVisible(*ev.User, *ev.Room, ev.Server)

	case host.EventBeforePost:
		if ev.Message == nil || ev.Room == nil {
			g.logger.Warn().Msg("beforePost event missing message or room")
			return
		}
		action := host.ActionSend
		if room := g.rooms[ev.Room.Token]; room != nil {
			action = room.handleBeforePost(*ev.Message, *ev.Room, ev.Server)
		} else {
			g.logger.Debug().Str("room_token", ev.Room.Token).Msg("Passing through post for unconfigured room")
		}
		if err := g.commander.Reply(ev.ReplyToken, action); err != nil {
			g.logger.Error().Err(err).Str("reply_token", ev.ReplyToken).Msg("Failed to reply to beforePost")
		}

	case host.EventShutdown:
		g.logger.Info().Msg("Host requested shutdown. Flushing trust state.")
		if err := g.persist.Flush(); err != nil {
			g.logger.Error().Err(err).Msg("Final flush on host shutdown failed")
		}

	default:
		g.logger.Debug().Str("event_type", ev.Type).Msg("Ignoring unhandled event type")
	}
}

// bootstrap runs the one-shot startup elevation: for every configured room it
// derives the bot's blinded handle and requests moderator rights. Independent
// across rooms; a failure in one room never blocks the others. Not re-entered
// after startup.
func (g *Registry) bootstrap(ev host.Event) {
	g.mu.Lock()
	if g.bootstrapped {
		g.mu.Unlock()
		g.logger.Debug().Msg("Ignoring repeated load event after bootstrap")
		return
	}
	g.bootstrapped = true
	g.mu.Unlock()

	if ev.Server == nil {
		g.logger.Warn().Msg("load event missing server reference; skipping bootstrap")
		return
	}

	roomIDs := make(map[string]int64, len(ev.Rooms))
	for _, ref := range ev.Rooms {
		roomIDs[ref.Token] = ref.ID
	}

	for _, room := range g.rooms {
		room.noteRefs(host.RoomRef{ID: roomIDs[room.token], Token: room.token}, ev.Server)

		r := room
		g.spawn(func(ctx context.Context) {
			handle, err := r.senderHandle()
			if err != nil {
				r.logger.Warn().Err(err).Msg("Skipping moderator elevation: no usable identity")
				return
			}

			if err := g.commander.SetRoomModerator(ctx, r.token, handle, true); err != nil {
				r.logger.Warn().Err(err).Msg("Moderator elevation request failed")
				return
			}

			r.logger.Info().Str("handle", handle).Msg("Requested moderator elevation")
		})
	}
}

// Snapshot assembles the full durable trust document: verified sets and pending
// maps from the store, plus each room's identity seed. Implements state.Source.
func (g *Registry) Snapshot() *trust.Snapshot {
	snap := trust.NewSnapshot()
	g.store.Dump(snap)

	for token, seed := range g.loadedSessions {
		snap.Sessions[token] = seed
	}
	for token, room := range g.rooms {
		snap.Sessions[token] = room.identity.SeedHex()
	}

	return snap
}

// Stats reports per-room trust counters, sorted by room token.
func (g *Registry) Stats() []RoomStats {
	stats := make([]RoomStats, 0, len(g.rooms))

	for token, room := range g.rooms {
		verified, pending := room.trust.Counts()
		stats = append(stats, RoomStats{
			Token:         token,
			Verified:      verified,
			Pending:       pending,
			RequirePuzzle: room.cfg.RequirePuzzle,
		})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Token < stats[j].Token })
	return stats
}

// spawn runs a continuation bound to the registry's lifetime.
func (g *Registry) spawn(fn func(context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Shutdown cancels outstanding continuations and waits for them to finish.
// The final snapshot flush is the persistence manager's job.
func (g *Registry) Shutdown() {
	g.logger.Info().Msg("Shutting down registry...")
	g.cancel()
	g.wg.Wait()
	g.logger.Info().Msg("Registry shutdown complete.")
}
