package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/world"
	"github.com/OCAP2/campaign/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeHost records messages and serves instance states.
type fakeHost struct {
	messages  []core.Message
	instances map[core.ObjectID]core.InstanceState
}

func (h *fakeHost) Spawn(context.Context, core.SpawnRequest) error { return nil }
func (h *fakeHost) Despawn(context.Context, core.Despawn) error    { return nil }

func (h *fakeHost) Instance(_ context.Context, id core.ObjectID) (core.InstanceState, error) {
	st, ok := h.instances[id]
	if !ok {
		return core.InstanceState{}, core.ErrUnknownInstance
	}
	return st, nil
}

func (h *fakeHost) LineOfSight(context.Context, core.Vector3, core.Vector3) bool { return false }
func (h *fakeHost) IsWater(context.Context, core.Vector2) bool                 { return false }
func (h *fakeHost) Mark(context.Context, core.Mark) error                      { return nil }
func (h *fakeHost) RemoveMark(context.Context, core.MarkID) error              { return nil }

func (h *fakeHost) Message(_ context.Context, m core.Message) error {
	h.messages = append(h.messages, m)
	return nil
}

func (h *fakeHost) last() string {
	if len(h.messages) == 0 {
		return ""
	}
	return h.messages[len(h.messages)-1].Text
}

var launcher = core.Crate{Name: "SAM Launcher", Weight: 500, Required: 1, MaxDropHeightAGL: 10, MaxDropSpeed: 13}

func testConfig() *config.WorldConfig {
	cfg := &config.WorldConfig{
		CrateLoadDistance:     50,
		CrateSpread:           250,
		LogisticsExclusion:    1000,
		DefaultThreatDistance: 3000,
		SideSwitches:          1,
		MaxCrates:             2,
		DefaultLives: map[string]config.LifeConfig{
			"standard": {Lives: 2, ResetAfter: time.Hour},
		},
		Cargo: map[string]core.CargoCapacity{
			"uh-1h": {TroopSlots: 1, CrateSlots: 1, TotalSlots: 2},
		},
		CrateTemplate: map[string]string{"blue": "BCRATE"},
		Deployables: map[string][]core.Deployable{"blue": {{
			Path:         []string{"SAM"},
			Template:     "BSAM",
			Limit:        1,
			LimitEnforce: core.DenyCrate,
			Crates:       []core.Crate{launcher},
		}}},
		Points: &config.PointsConfig{NewPlayerJoin: 10},
		Admins: []string{"admin"},
	}
	cfg.SetUnitTags("truck", core.Tags(core.TagLogistics, core.TagUnarmed))
	cfg.SetUnitTags("container", core.Tags(core.TagUnarmed))
	cfg.SetUnitTags("launcher", core.Tags(core.TagSAM, core.TagLauncher))
	return cfg
}

func testBootstrap() *world.Bootstrap {
	unit := func(name, typ string, x float64) core.TemplateUnit {
		return core.TemplateUnit{Name: name, Type: typ, Pos: core.Vector2{X: x}}
	}
	return &world.Bootstrap{
		Templates: []core.Template{
			{Name: "BLOGI", Side: core.Blue, Units: []core.TemplateUnit{unit("BLOGI-a", "truck", 100), unit("BLOGI-b", "truck", 110)}},
			{Name: "BCRATE", Side: core.Blue, Static: true, Units: []core.TemplateUnit{unit("BCRATE-a", "container", 0)}},
			{Name: "BSAM", Side: core.Blue, Units: []core.TemplateUnit{unit("BSAM-a", "launcher", 0)}},
		},
		Objectives: []world.BootstrapObjective{{
			Name:      "Alpha",
			Kind:      core.KindAirbase,
			Zone:      core.CircleZone(core.Vector2{}, 2000),
			Owner:     core.Blue,
			Garrisons: map[core.Side][]string{core.Blue: {"BLOGI"}},
		}},
		Slots: []world.BootstrapSlot{
			{SlotInfo: core.SlotInfo{ID: "101", Side: core.Blue, UnitType: "UH-1H"}, Pos: core.Vector2{X: 50, Y: 50}},
		},
	}
}

func newTestService(t *testing.T) (*Service, *world.World, *fakeHost) {
	t.Helper()
	return newTestServiceWith(t, testConfig())
}

func newTestServiceWith(t *testing.T, cfg *config.WorldConfig) (*Service, *world.World, *fakeHost) {
	t.Helper()
	host := &fakeHost{instances: make(map[core.ObjectID]core.InstanceState)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := world.New(world.Dependencies{
		Config: cfg,
		Host:   host,
		Logger: logger,
		Now:    func() time.Time { return start },
	})
	require.NoError(t, err)
	require.NoError(t, w.Import(context.Background(), testBootstrap(), start))

	svc := NewService(Dependencies{World: w, Config: cfg, Host: host, Logger: logger})
	return svc, w, host
}

func event(cmd string, data any) dispatcher.Event {
	return dispatcher.Event{Command: cmd, Data: data, Timestamp: start}
}

func chat(ucid core.Ucid, name, text string) dispatcher.Event {
	return event(CommandChat, ChatEvent{Ucid: ucid, Name: name, Text: text})
}

// fly registers ucid with blue and puts them in slot 101 in an aircraft
// standing at (100, 100).
func fly(t *testing.T, s *Service, host *fakeHost, ucid core.Ucid) {
	t.Helper()
	if _, err := s.deps.World.Player(ucid); err != nil {
		require.NoError(t, s.deps.World.RegisterPlayer(ucid, string(ucid), core.Blue))
	}
	res, err := s.handleSlotRequest(event(CommandSlotRequest, SlotEvent{Ucid: ucid, Slot: "101"}))
	require.NoError(t, err)
	require.True(t, res.(world.SlotAuth).Allowed())

	host.instances["9"] = core.InstanceState{Position: core.Vector3{X: 100, Z: 100}, Type: "UH-1H"}
	_, err = s.handleSlotEnter(event(CommandSlotEnter, SlotEvent{Ucid: ucid, Slot: "101", Object: "9"}))
	require.NoError(t, err)
}

func TestRegisterHandlers_RegistersAllCommands(t *testing.T) {
	s, _, _ := newTestService(t)
	d, err := dispatcher.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()

	s.RegisterHandlers(d)

	for _, cmd := range []string{
		CommandUnitBorn, CommandUnitDead, CommandUnitEnter, CommandUnitLeave, CommandConnect, CommandDisconnect,
		CommandSlotRequest, CommandSlotEnter, CommandSlotLeave, CommandTakeoff,
		CommandLand, CommandChat, CommandCrateSpawn, CommandCrateList,
		CommandCrateDestroy, CommandCrateLoad, CommandCrateUnload, CommandTroopsLoad,
		CommandTroopsUnload, CommandTroopsReturn, CommandTroopsGrab, CommandUnpack,
		CommandCargo,
	} {
		assert.True(t, d.HasHandler(cmd), "expected handler for %s", cmd)
	}
}

func TestDispatch_RawPayload(t *testing.T) {
	s, w, _ := newTestService(t)
	d, err := dispatcher.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer d.Close()
	s.RegisterHandlers(d)

	_, err = d.Dispatch(dispatcher.Event{
		Command: CommandChat,
		Data:    []byte(`{"ucid":"blue1","name":"Maverick","text":"blue"}`),
	})
	require.NoError(t, err)

	p, err := w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, core.Blue, p.Side)
}

func TestChat_Register(t *testing.T) {
	s, _, host := newTestService(t)

	res, err := s.handleChat(chat("blue1", "Maverick", "Blue"))
	require.NoError(t, err)
	assert.Equal(t, "", res)
	require.Len(t, host.messages, 2)
	require.NotNil(t, host.messages[0].Player)
	assert.Equal(t, core.Ucid("blue1"), *host.messages[0].Player)
	assert.Contains(t, host.messages[0].Text, "Welcome to the blue team")
	assert.Nil(t, host.messages[1].Player, "the join is announced to everyone")
	assert.Equal(t, "Maverick has joined blue team", host.messages[1].Text)

	_, err = s.handleChat(chat("blue1", "Maverick", "red"))
	require.NoError(t, err)
	assert.Equal(t, "You are already on the blue team. You may switch sides 1 time by typing -switch red.", host.last())

	_, err = s.handleChat(chat("blue1", "Maverick", "blue"))
	require.NoError(t, err)
	assert.Equal(t, "already on blue", host.last())
}

func TestChat_SideSwitch(t *testing.T) {
	s, w, host := newTestService(t)
	_, err := s.handleChat(chat("blue1", "Maverick", "blue"))
	require.NoError(t, err)

	_, err = s.handleChat(chat("blue1", "Maverick", "-switch red"))
	require.NoError(t, err)
	assert.Equal(t, "Maverick has switched to red", host.last())
	p, err := w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, core.Red, p.Side)

	_, err = s.handleChat(chat("blue1", "Maverick", "-switch blue"))
	require.NoError(t, err)
	assert.Equal(t, world.ErrSwitchNoSwitchesLeft.Error(), host.last())

	_, err = s.handleChat(chat("blue1", "Maverick", "-switch green"))
	require.NoError(t, err)
	assert.Equal(t, "side must be blue or red", host.last())
}

func TestChat_NotACommand(t *testing.T) {
	s, _, host := newTestService(t)

	res, err := s.handleChat(chat("blue1", "Maverick", "hello there"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", res)
	assert.Empty(t, host.messages)

	_, err = s.handleChat(chat("blue1", "Maverick", "-fly"))
	require.NoError(t, err)
	require.Len(t, host.messages, 1+len(helpLines))
	assert.Equal(t, " -fly is not a valid command. Valid commands follow.", host.messages[0].Text)
}

func TestChat_Balance(t *testing.T) {
	s, _, host := newTestService(t)

	_, err := s.handleChat(chat("blue1", "Maverick", "-balance"))
	require.NoError(t, err)
	assert.Contains(t, host.last(), "not registered")

	_, err = s.handleChat(chat("blue1", "Maverick", "blue"))
	require.NoError(t, err)
	_, err = s.handleChat(chat("blue1", "Maverick", "-balance"))
	require.NoError(t, err)
	assert.Equal(t, "You have 10 points", host.last())
}

func TestChat_Help(t *testing.T) {
	s, _, host := newTestService(t)

	_, err := s.handleChat(chat("blue1", "Maverick", "-help"))
	require.NoError(t, err)
	assert.Len(t, host.messages, len(helpLines))

	host.messages = nil
	_, err = s.handleChat(chat("admin", "Boss", "-help"))
	require.NoError(t, err)
	assert.Len(t, host.messages, len(helpLines)+1, "admins learn about -admin")
}

func TestChat_AdminSwitch(t *testing.T) {
	s, w, host := newTestService(t)
	require.NoError(t, w.RegisterPlayer("blue1", "Maverick", core.Blue))
	require.NoError(t, w.RegisterPlayer("admin", "Boss", core.Blue))

	_, err := s.handleChat(chat("blue1", "Maverick", "-admin switch red Maverick"))
	require.NoError(t, err)
	assert.Empty(t, host.messages, "non admins get no answer")

	_, err = s.handleChat(chat("admin", "Boss", "-admin switch red Nobody"))
	require.NoError(t, err)
	assert.Equal(t, "no player named Nobody", host.last())

	_, err = s.handleChat(chat("admin", "Boss", "-admin switch red maverick"))
	require.NoError(t, err)
	assert.Equal(t, "Maverick has been moved to red", host.last())
	p, err := w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, core.Red, p.Side)
	assert.Equal(t, 1, *p.SideSwitches, "forced switches are free")
}

func TestChat_AdminSupplyDisabled(t *testing.T) {
	s, w, host := newTestService(t)
	require.NoError(t, w.RegisterPlayer("admin", "Boss", core.Blue))

	_, err := s.handleChat(chat("admin", "Boss", "-admin deliver"))
	require.NoError(t, err)
	assert.Equal(t, world.ErrNoSupplySystem.Error(), host.last())

	_, err = s.handleChat(chat("admin", "Boss", "-admin transfer Alpha"))
	require.NoError(t, err)
	assert.Equal(t, "transfer expects <from> <to>", host.last())

	_, err = s.handleChat(chat("admin", "Boss", "-admin transfer Alpha Alpha"))
	require.NoError(t, err)
	assert.Equal(t, world.ErrNoSupplySystem.Error(), host.last())
}

func TestChat_AdminSupply(t *testing.T) {
	cfg := testConfig()
	cfg.Warehouse = &config.WarehouseConfig{
		HubMax:             10,
		AirbaseMax:         4,
		Tick:               10 * time.Minute,
		TicksPerDelivery:   3,
		SupplyTransferSize: 25,
		Production: map[string]config.Production{
			"blue": {Equipment: map[string]uint32{"mk82": 10}},
		},
	}
	s, w, host := newTestServiceWith(t, cfg)
	require.NoError(t, w.RegisterPlayer("admin", "Boss", core.Blue))

	_, err := s.handleChat(chat("admin", "Boss", "-admin supply Alpha"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(host.messages), 2)
	assert.Equal(t, "Alpha supply 100% fuel 0%", host.messages[len(host.messages)-2].Text)
	assert.Equal(t, " mk82 40/40", host.last())

	_, err = s.handleChat(chat("admin", "Boss", "-admin supply Nowhere"))
	require.NoError(t, err)
	assert.Contains(t, host.last(), "Nowhere")

	_, err = s.handleChat(chat("admin", "Boss", "-admin deliver"))
	require.NoError(t, err)
	assert.Equal(t, "production delivered", host.last())
}

func TestChat_Lives(t *testing.T) {
	s, _, host := newTestService(t)
	fly(t, s, host, "blue1")

	_, err := s.handleChat(chat("blue1", "blue1", "-lives"))
	require.NoError(t, err)
	assert.Equal(t, "all your lives are available", host.last())

	_, err = s.handleTakeoff(event(CommandTakeoff, FlightEvent{Slot: "101", Pos: core.Vector2{X: 100, Y: 100}}))
	require.NoError(t, err)
	_, err = s.handleChat(chat("blue1", "blue1", "-lives"))
	require.NoError(t, err)
	assert.Equal(t, "Standard: 1 lives, reset in 01:00:00", host.last())
}

func TestSlotRequest_Refused(t *testing.T) {
	s, w, host := newTestService(t)

	res, err := s.handleSlotRequest(event(CommandSlotRequest, SlotEvent{Ucid: "blue1", Slot: "101"}))
	require.NoError(t, err)
	auth := res.(world.SlotAuth)
	assert.Equal(t, world.SlotNotRegistered, auth.Kind)
	assert.Equal(t, "you must register with blue before taking a slot", host.last())
	require.NotNil(t, host.messages[0].Player)
	assert.Equal(t, []core.Ucid{"blue1"}, w.PlayersToForceToSpectators(start))
}

func TestFlight_TakeoffAndLand(t *testing.T) {
	s, _, host := newTestService(t)
	fly(t, s, host, "blue1")
	pos := core.Vector2{X: 100, Y: 100}

	res, err := s.handleTakeoff(event(CommandTakeoff, FlightEvent{Slot: "101", Pos: pos}))
	require.NoError(t, err)
	assert.Equal(t, true, res)
	assert.Equal(t, "1 Standard lives remaining", host.last())
	require.NotNil(t, host.messages[len(host.messages)-1].Slot)

	res, err = s.handleLand(event(CommandLand, FlightEvent{Slot: "101", Pos: pos}))
	require.NoError(t, err)
	assert.Equal(t, true, res)
	assert.Equal(t, "all Standard lives available", host.last())

	_, err = s.handleTakeoff(event(CommandTakeoff, FlightEvent{Slot: "999", Pos: pos}))
	assert.ErrorIs(t, err, world.ErrNotInSlot)
}

func TestUnitDead_PlayerGoesToSpectators(t *testing.T) {
	s, w, host := newTestService(t)
	fly(t, s, host, "blue1")

	_, err := s.handleUnitDead(event(CommandUnitDead, UnitEvent{Object: "9"}))
	require.NoError(t, err)

	p, err := w.Player("blue1")
	require.NoError(t, err)
	assert.Nil(t, p.CurrentSlot)
	assert.Equal(t, []core.Ucid{"blue1"}, w.PlayersToForceToSpectators(start))
}

func TestUnitEvents_UnknownObjectsIgnored(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.handleUnitBorn(event(CommandUnitBorn, UnitEvent{Object: "77", Name: "scenery"}))
	assert.NoError(t, err)
	_, err = s.handleUnitDead(event(CommandUnitDead, UnitEvent{Object: "77"}))
	assert.NoError(t, err)
	_, err = s.handleUnitDead(event(CommandUnitDead, "not a unit event"))
	assert.Error(t, err)
}

func TestUnitOperated_KeepsGarrisonSpawned(t *testing.T) {
	s, w, _ := newTestService(t)
	ctx := context.Background()
	alpha, err := w.ObjectiveByName("Alpha")
	require.NoError(t, err)
	g, err := w.Group(alpha.Garrison()[0])
	require.NoError(t, err)
	u, err := w.Unit(g.Units[0])
	require.NoError(t, err)
	require.NoError(t, w.UnitBorn("obj-5", u.Name))

	_, err = s.unitOperated(true)(event(CommandUnitEnter, UnitEvent{Object: "obj-5"}))
	require.NoError(t, err)
	w.CullOrRespawnObjectives(ctx, start)
	assert.True(t, alpha.Spawned, "a driven garrison unit keeps its objective alive")

	_, err = s.unitOperated(false)(event(CommandUnitLeave, UnitEvent{Object: "obj-5"}))
	require.NoError(t, err)
	w.CullOrRespawnObjectives(ctx, start.Add(time.Minute))
	assert.False(t, alpha.Spawned)

	_, err = s.unitOperated(true)(event(CommandUnitEnter, UnitEvent{Object: "77"}))
	assert.NoError(t, err, "objects we do not track are ignored")
}

func TestConnect(t *testing.T) {
	s, w, host := newTestService(t)

	res, err := s.handleConnect(event(CommandConnect, PlayerEvent{Ucid: "blue1", Name: "Maverick"}))
	require.NoError(t, err)
	assert.Equal(t, false, res)
	assert.Contains(t, host.last(), "choose your side")

	require.NoError(t, w.RegisterPlayer("blue1", "Maverick", core.Blue))
	res, err = s.handleConnect(event(CommandConnect, PlayerEvent{Ucid: "blue1", Name: "Goose"}))
	require.NoError(t, err)
	assert.Equal(t, true, res)
	p, err := w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, "Goose", p.Name)
	assert.Equal(t, []string{"Maverick"}, p.AltNames)
}

func TestCargo_CrateRoundTrip(t *testing.T) {
	s, _, host := newTestService(t)
	fly(t, s, host, "blue1")
	ev := func(cmd string) dispatcher.Event {
		return event(cmd, CargoEvent{Slot: "101", Name: launcher.Name})
	}

	steps := []struct {
		cmd  string
		want string
	}{
		{CommandCrateSpawn, "SAM Launcher crate spawned"},
		{CommandCrateList, "SAM Launcher crate 20m"},
		{CommandCargo, "your cargo is empty"},
		{CommandCrateLoad, "SAM Launcher crate loaded"},
		{CommandCargo, "SAM Launcher crate\ntotal weight 500kg"},
		{CommandCrateList, world.ErrNoCrates.Error()},
		{CommandCrateUnload, "SAM Launcher crate unloaded"},
		{CommandCrateUnload, world.ErrNoCargo.Error()},
		{CommandCrateDestroy, "crate destroyed"},
	}
	handlers := map[string]dispatcher.HandlerFunc{
		CommandCrateSpawn:   s.handleCrateSpawn,
		CommandCrateList:    s.handleCrateList,
		CommandCargo:        s.handleCargo,
		CommandCrateLoad:    s.handleCrateLoad,
		CommandCrateUnload:  s.handleCrateUnload,
		CommandCrateDestroy: s.handleCrateDestroy,
	}
	for _, step := range steps {
		res, err := handlers[step.cmd](ev(step.cmd))
		require.NoError(t, err, step.cmd)
		assert.Equal(t, step.want, res, step.cmd)
		assert.Equal(t, step.want, host.last(), step.cmd)
	}
}

func TestCargo_RefusalsAreTold(t *testing.T) {
	s, _, host := newTestService(t)

	res, err := s.handleUnpack(event(CommandUnpack, CargoEvent{Slot: "101"}))
	require.NoError(t, err)
	assert.Contains(t, res, world.ErrNotInSlot.Error())

	fly(t, s, host, "blue1")
	res, err = s.handleUnpack(event(CommandUnpack, CargoEvent{Slot: "101"}))
	require.NoError(t, err)
	assert.Equal(t, world.ErrNoCrates.Error(), res)
	require.NotNil(t, host.messages[len(host.messages)-1].Slot)
	assert.Equal(t, core.SlotID("101"), *host.messages[len(host.messages)-1].Slot)
}

func TestUnpackText(t *testing.T) {
	tests := []struct {
		res  world.UnpackResult
		want string
	}{
		{world.UnpackResult{Kind: world.Unpacked, Name: "SAM"}, "SAM unpacked"},
		{world.UnpackResult{Kind: world.Repaired, Name: "SAM"}, "SAM repaired"},
		{world.UnpackResult{Kind: world.UnpackedFarp, Name: "farp UK 1"}, "farp UK 1 deployed"},
		{world.UnpackResult{Kind: world.RepairedBase, Name: "Alpha", Logi: 75}, "Alpha logistics repaired to 75%"},
		{world.UnpackResult{Kind: world.TransferredSupplies, Name: "Alpha", From: "Charlie"}, "supplies transferred from Charlie to Alpha"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, unpackText(tt.res))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "01:02:03", formatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "00:00:00", formatDuration(-time.Minute))
}
