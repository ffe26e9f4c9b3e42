// Package handlers turns host and player events into World operations and
// tells the players involved how it went.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/world"
	"github.com/OCAP2/campaign/pkg/core"
)

// Commands pushed by the host bridge.
const (
	CommandUnitBorn     = ":UNIT:BORN:"
	CommandUnitDead     = ":UNIT:DEAD:"
	CommandUnitEnter    = ":UNIT:PLAYER:ENTER:"
	CommandUnitLeave    = ":UNIT:PLAYER:LEAVE:"
	CommandConnect      = ":PLAYER:CONNECT:"
	CommandDisconnect   = ":PLAYER:DISCONNECT:"
	CommandSlotRequest  = ":SLOT:REQUEST:"
	CommandSlotEnter    = ":SLOT:ENTER:"
	CommandSlotLeave    = ":SLOT:LEAVE:"
	CommandTakeoff      = ":TAKEOFF:"
	CommandLand         = ":LAND:"
	CommandChat         = ":CHAT:"
	CommandCrateSpawn   = ":CRATE:SPAWN:"
	CommandCrateList    = ":CRATE:LIST:"
	CommandCrateDestroy = ":CRATE:DESTROY:"
	CommandCrateLoad    = ":CRATE:LOAD:"
	CommandCrateUnload  = ":CRATE:UNLOAD:"
	CommandTroopsLoad   = ":TROOPS:LOAD:"
	CommandTroopsUnload = ":TROOPS:UNLOAD:"
	CommandTroopsReturn = ":TROOPS:RETURN:"
	CommandTroopsGrab   = ":TROOPS:EXTRACT:"
	CommandUnpack       = ":UNPACK:"
	CommandCargo        = ":CARGO:"
)

// messageSeconds is how long replies stay on screen.
const messageSeconds = 10

// UnitEvent reports a host object being born or dying.
type UnitEvent struct {
	Object core.ObjectID `json:"object"`
	Name   string        `json:"name,omitempty"`
}

// PlayerEvent reports a connecting or leaving player.
type PlayerEvent struct {
	Ucid core.Ucid `json:"ucid"`
	Name string    `json:"name"`
}

// SlotEvent reports a player asking for, entering or leaving a slot.
// Object is only set on enter.
type SlotEvent struct {
	Ucid   core.Ucid     `json:"ucid"`
	Slot   core.SlotID   `json:"slot"`
	Object core.ObjectID `json:"object,omitempty"`
}

// FlightEvent reports a takeoff or landing.
type FlightEvent struct {
	Slot core.SlotID  `json:"slot"`
	Pos  core.Vector2 `json:"pos"`
}

// ChatEvent is a chat line typed by a player.
type ChatEvent struct {
	Ucid core.Ucid `json:"ucid"`
	Name string    `json:"name"`
	Text string    `json:"text"`
}

// CargoEvent is a cargo menu action of the player in Slot. Name selects
// the crate or troop type where the action needs one.
type CargoEvent struct {
	Slot core.SlotID `json:"slot"`
	Name string      `json:"name,omitempty"`
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	World  *world.World
	Config *config.WorldConfig
	Host   core.Host
	Logger *slog.Logger
	// Now defaults to time.Now and is used when an event carries no timestamp.
	Now func() time.Time
}

// Service provides the event handlers.
type Service struct {
	deps Dependencies
	log  *slog.Logger
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		deps: deps,
		log:  deps.Logger.With("component", "handlers"),
	}
}

// RegisterHandlers registers every event handler with the dispatcher. The
// handlers touch the World and must run on the tick loop, so none of them
// is buffered.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CommandUnitBorn, s.handleUnitBorn)
	d.Register(CommandUnitDead, s.handleUnitDead)
	d.Register(CommandUnitEnter, s.unitOperated(true))
	d.Register(CommandUnitLeave, s.unitOperated(false))
	d.Register(CommandConnect, s.handleConnect, dispatcher.Logged())
	d.Register(CommandDisconnect, s.handleDisconnect, dispatcher.Logged())
	d.Register(CommandSlotRequest, s.handleSlotRequest, dispatcher.Logged())
	d.Register(CommandSlotEnter, s.handleSlotEnter)
	d.Register(CommandSlotLeave, s.handleSlotLeave)
	d.Register(CommandTakeoff, s.handleTakeoff)
	d.Register(CommandLand, s.handleLand)
	d.Register(CommandChat, s.handleChat)

	for cmd, h := range map[string]dispatcher.HandlerFunc{
		CommandCrateSpawn:   s.handleCrateSpawn,
		CommandCrateList:    s.handleCrateList,
		CommandCrateDestroy: s.handleCrateDestroy,
		CommandCrateLoad:    s.handleCrateLoad,
		CommandCrateUnload:  s.handleCrateUnload,
		CommandTroopsLoad:   s.handleTroopsLoad,
		CommandTroopsUnload: s.handleTroopsUnload,
		CommandTroopsReturn: s.handleTroopsReturn,
		CommandTroopsGrab:   s.handleTroopsExtract,
		CommandUnpack:       s.handleUnpack,
		CommandCargo:        s.handleCargo,
	} {
		d.Register(cmd, h, dispatcher.Logged())
	}
}

func (s *Service) now(e dispatcher.Event) time.Time {
	if e.Timestamp.IsZero() {
		return s.deps.Now()
	}
	return e.Timestamp
}

func (s *Service) handleUnitBorn(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[UnitEvent](e)
	if err != nil {
		return nil, err
	}
	// most objects born are not ours: player aircraft, weapons, scenery
	if err := s.deps.World.UnitBorn(ev.Object, ev.Name); err != nil && !errors.Is(err, world.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func (s *Service) handleUnitDead(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[UnitEvent](e)
	if err != nil {
		return nil, err
	}
	if err := s.deps.World.UnitDead(ev.Object, s.now(e)); err != nil && !errors.Is(err, world.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// unitOperated tracks players driving world units, such as a garrison
// tank taken by a combined arms player.
func (s *Service) unitOperated(operated bool) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		ev, err := dispatcher.Decode[UnitEvent](e)
		if err != nil {
			return nil, err
		}
		if err := s.deps.World.UnitPlayerOperated(ev.Object, operated); err != nil && !errors.Is(err, world.ErrNotFound) {
			return nil, err
		}
		return nil, nil
	}
}

func (s *Service) handleConnect(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[PlayerEvent](e)
	if err != nil {
		return nil, err
	}
	if !s.deps.World.PlayerConnected(ev.Ucid, ev.Name, s.now(e)) {
		s.tellPlayer(ev.Ucid, "Welcome. Type blue or red in chat to choose your side.")
		return false, nil
	}
	return true, nil
}

func (s *Service) handleDisconnect(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[PlayerEvent](e)
	if err != nil {
		return nil, err
	}
	s.deps.World.PlayerDisconnected(ev.Ucid, s.now(e))
	return nil, nil
}

// handleSlotRequest answers a slot change. A refused player is told why
// and sent back to spectators on the next tick.
func (s *Service) handleSlotRequest(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[SlotEvent](e)
	if err != nil {
		return nil, err
	}
	now := s.now(e)
	auth := s.deps.World.TryOccupySlot(now, ev.Slot, ev.Ucid)
	if !auth.Allowed() {
		s.log.Debug("Slot refused", "ucid", ev.Ucid, "slot", ev.Slot, "reason", auth.Kind)
		s.tellPlayer(ev.Ucid, auth.Reason())
		s.deps.World.ForceToSpectators(ev.Ucid, now)
	}
	return auth, nil
}

func (s *Service) handleSlotEnter(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[SlotEvent](e)
	if err != nil {
		return nil, err
	}
	return nil, s.deps.World.PlayerEnteredSlot(context.Background(), ev.Slot, ev.Object, s.now(e))
}

func (s *Service) handleSlotLeave(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[SlotEvent](e)
	if err != nil {
		return nil, err
	}
	s.deps.World.PlayerLeftSlot(ev.Slot)
	return nil, nil
}

func (s *Service) handleTakeoff(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[FlightEvent](e)
	if err != nil {
		return nil, err
	}
	lt, taken, err := s.deps.World.Takeoff(s.now(e), ev.Slot, ev.Pos)
	if err != nil {
		return nil, err
	}
	if taken {
		s.tellSlot(ev.Slot, livesLeft(s.deps.World, ev.Slot, lt))
	}
	return taken, nil
}

func (s *Service) handleLand(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[FlightEvent](e)
	if err != nil {
		return nil, err
	}
	lt, returned, err := s.deps.World.Land(s.now(e), ev.Slot, ev.Pos)
	if err != nil {
		return nil, err
	}
	if returned {
		s.tellSlot(ev.Slot, livesLeft(s.deps.World, ev.Slot, lt))
	}
	return returned, nil
}

func (s *Service) send(m core.Message) {
	if m.Seconds == 0 {
		m.Seconds = messageSeconds
	}
	if err := s.deps.Host.Message(context.Background(), m); err != nil {
		s.log.Warn("Failed to send message", "text", m.Text, "error", err)
	}
}

func (s *Service) tellPlayer(ucid core.Ucid, text string) {
	s.send(core.Message{Player: &ucid, Text: text})
}

func (s *Service) tellSlot(slot core.SlotID, text string) {
	s.send(core.Message{Slot: &slot, Text: text})
}

func (s *Service) tellAll(text string) {
	s.send(core.Message{Text: text})
}
