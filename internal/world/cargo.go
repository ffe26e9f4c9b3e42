package world

import (
	"context"
	"fmt"
	"slices"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

// crateClearance is the free space required around a new crate.
const crateClearance = 10.0

// slotStats is the live state of a slotted aircraft.
type slotStats struct {
	player   *core.Player
	slot     core.SlotID
	unitType string
	pos      core.Vector2
	heading  float64
	inAir    bool
	agl      float64
	speed    float64
}

func (w *World) slotStats(ctx context.Context, slot core.SlotID) (*slotStats, error) {
	ucid, ok := w.e.playersBySlot[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInSlot, slot)
	}
	p, err := w.Player(ucid)
	if err != nil {
		return nil, err
	}
	oid, ok := w.e.objectBySlot[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no aircraft", ErrNotInSlot, slot)
	}
	st, err := w.host.Instance(ctx, oid)
	if err != nil {
		return nil, fmt.Errorf("reading aircraft of %s: %w", slot, err)
	}
	p.Instance = w.instanced(p, st)
	typ := st.Type
	if info, _, ok := w.slotInfo(slot); ok && info.UnitType != "" {
		typ = info.UnitType
	}
	return &slotStats{
		player:   p,
		slot:     slot,
		unitType: typ,
		pos:      p.Instance.Pos(),
		heading:  st.Heading,
		inAir:    st.InAir,
		agl:      st.AGL,
		speed:    p.Instance.SpeedKMH(),
	}, nil
}

func (w *World) capacityOf(typ string) (core.CargoCapacity, error) {
	c, ok := w.cfg.CargoOf(typ)
	if !ok {
		return core.CargoCapacity{}, fmt.Errorf("%w: %s cannot carry cargo", ErrCargoFull, typ)
	}
	return c, nil
}

// pointNearLogistics returns the objective of side with working logistics
// whose zone contains pos.
func (w *World) pointNearLogistics(side core.Side, pos core.Vector2) (*core.Objective, error) {
	for _, obj := range w.Objectives() {
		if obj.Owner == side && obj.Logi > 0 && geo.Contains(obj.Zone, pos) {
			return obj, nil
		}
	}
	return nil, ErrNotNearLogistics
}

// NearbyCrate is a crate on the ground.
type NearbyCrate struct {
	Group    core.GroupID     `json:"group"`
	Side     core.Side        `json:"side"`
	Crate    core.Crate       `json:"crate"`
	Origin   core.ObjectiveID `json:"origin"`
	Player   core.Ucid        `json:"player"`
	Pos      core.Vector2     `json:"pos"`
	Distance float64          `json:"distance"`
}

// cratesNear lists crates of any side within dist of pos, nearest first.
func (w *World) cratesNear(pos core.Vector2, dist float64) []NearbyCrate {
	var out []NearbyCrate
	for _, gid := range w.p.Crates.Sorted() {
		g, ok := w.p.Groups[gid]
		if !ok {
			continue
		}
		o, ok := g.Origin.(core.OriginCrate)
		if !ok {
			continue
		}
		c := w.groupCenter(g)
		d := c.Distance(pos)
		if d > dist {
			continue
		}
		out = append(out, NearbyCrate{Group: gid, Side: g.Side, Crate: o.Spec, Origin: o.Origin, Player: o.Player, Pos: c, Distance: d})
	}
	slices.SortStableFunc(out, func(a, b NearbyCrate) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return out
}

func sameSide(crates []NearbyCrate, side core.Side) []NearbyCrate {
	return slices.DeleteFunc(crates, func(c NearbyCrate) bool { return c.Side != side })
}

// SpawnCrate puts a crate on the ground in front of a landed aircraft at
// friendly logistics. The player's oldest crates are removed beyond
// maxCrates.
func (w *World) SpawnCrate(ctx context.Context, slot core.SlotID, name string) (core.GroupID, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return 0, err
	}
	if ss.inAir {
		return 0, ErrMustLand
	}
	side := ss.player.Side
	obj, err := w.pointNearLogistics(side, ss.pos)
	if err != nil {
		return 0, err
	}
	spec, ok := w.e.index[side].crates[name]
	if !ok {
		return 0, notFound("crate", name)
	}
	dir := headingDir(ss.heading)
	approx := ss.pos.Add(dir.Scale(crateMinDistance))
	if len(w.cratesNear(approx, crateClearance)) > 0 {
		return 0, fmt.Errorf("%w: another crate is in the way", ErrTooClose)
	}
	tmpl := w.cfg.CrateTemplateOf(side)
	if tmpl == "" {
		return 0, fmt.Errorf("no crate template for %s", side)
	}
	loc := core.SpawnLoc{AtPos: &core.AtPos{Pos: ss.pos, OffsetDirection: dir, Heading: ss.heading}}
	origin := core.OriginCrate{Origin: obj.ID, Player: ss.player.Ucid, Spec: spec}
	gid, err := w.AddAndQueueGroup(ctx, side, loc, tmpl, origin, 0, nil)
	if err != nil {
		return 0, err
	}
	for w.cfg.MaxCrates > 0 && len(ss.player.Crates) > w.cfg.MaxCrates {
		if err := w.DeleteGroup(ss.player.Crates[0]); err != nil {
			return gid, err
		}
	}
	w.stat(core.Stat{Kind: core.StatCrateSpawn, Side: side, Player: &ss.player.Ucid, Objective: &obj.ID, Group: &gid, Detail: name})
	return gid, nil
}

// ListNearbyCrates lists friendly crates within loading distance.
func (w *World) ListNearbyCrates(ctx context.Context, slot core.SlotID) ([]NearbyCrate, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return nil, err
	}
	return sameSide(w.cratesNear(ss.pos, w.cfg.CrateLoadDistance), ss.player.Side), nil
}

// DestroyNearbyCrate removes the closest friendly crate.
func (w *World) DestroyNearbyCrate(ctx context.Context, slot core.SlotID) error {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return err
	}
	if ss.inAir {
		return ErrMustLand
	}
	crates := sameSide(w.cratesNear(ss.pos, w.cfg.CrateLoadDistance), ss.player.Side)
	if len(crates) == 0 {
		return ErrNoCrates
	}
	return w.DeleteGroup(crates[0].Group)
}

// LoadNearbyCrate takes the closest friendly crate on board.
func (w *World) LoadNearbyCrate(ctx context.Context, slot core.SlotID) (core.Crate, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return core.Crate{}, err
	}
	capacity, err := w.capacityOf(ss.unitType)
	if err != nil {
		return core.Crate{}, err
	}
	cargo := w.e.cargoOf(slot)
	if cargo.NumCrates() >= capacity.CrateSlots || cargo.NumTotal() >= capacity.TotalSlots {
		return core.Crate{}, ErrCargoFull
	}
	crates := sameSide(w.cratesNear(ss.pos, w.cfg.CrateLoadDistance), ss.player.Side)
	if len(crates) == 0 {
		return core.Crate{}, ErrNoCrates
	}
	c := crates[0]
	if err := w.DeleteGroup(c.Group); err != nil {
		return core.Crate{}, err
	}
	cargo.Crates = append(cargo.Crates, core.CarriedCrate{Origin: c.Origin, Player: c.Player, Spec: c.Crate})
	w.stat(core.Stat{Kind: core.StatCargo, Side: ss.player.Side, Player: &ss.player.Ucid, Value: 1, Detail: "load crate " + c.Crate.Name})
	return c.Crate, nil
}

// UnloadCrate puts the last loaded crate on the ground. Dropping too fast
// or too high fails and keeps the crate on board.
func (w *World) UnloadCrate(ctx context.Context, slot core.SlotID) (core.Crate, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return core.Crate{}, err
	}
	cargo := w.e.cargoOf(slot)
	if len(cargo.Crates) == 0 {
		return core.Crate{}, ErrNoCargo
	}
	cr := cargo.Crates[len(cargo.Crates)-1]
	if ss.inAir {
		if ss.speed > float64(cr.Spec.MaxDropSpeed) {
			return core.Crate{}, fmt.Errorf("%w: %.0f km/h, max %d", ErrTooFast, ss.speed, cr.Spec.MaxDropSpeed)
		}
		if ss.agl > float64(cr.Spec.MaxDropHeightAGL) {
			return core.Crate{}, fmt.Errorf("%w: %.0f m, max %d", ErrTooHigh, ss.agl, cr.Spec.MaxDropHeightAGL)
		}
	}
	side := ss.player.Side
	tmpl := w.cfg.CrateTemplateOf(side)
	if tmpl == "" {
		return core.Crate{}, fmt.Errorf("no crate template for %s", side)
	}
	loc := core.SpawnLoc{AtPos: &core.AtPos{Pos: ss.pos, OffsetDirection: headingDir(ss.heading), Heading: ss.heading}}
	origin := core.OriginCrate{Origin: cr.Origin, Player: cr.Player, Spec: cr.Spec}
	if _, err := w.AddAndQueueGroup(ctx, side, loc, tmpl, origin, 0, nil); err != nil {
		return core.Crate{}, err
	}
	cargo.Crates = cargo.Crates[:len(cargo.Crates)-1]
	w.stat(core.Stat{Kind: core.StatCargo, Side: side, Player: &ss.player.Ucid, Value: -1, Detail: "unload crate " + cr.Spec.Name})
	return cr.Spec, nil
}

// LoadTroops boards a squad at friendly logistics, charging its cost.
func (w *World) LoadTroops(ctx context.Context, slot core.SlotID, name string) (core.Troop, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return core.Troop{}, err
	}
	if ss.inAir {
		return core.Troop{}, ErrMustLand
	}
	side := ss.player.Side
	obj, err := w.pointNearLogistics(side, ss.pos)
	if err != nil {
		return core.Troop{}, err
	}
	spec, ok := w.e.index[side].troops[name]
	if !ok {
		return core.Troop{}, notFound("troop", name)
	}
	if err := w.canAfford(ss.player, spec.Cost); err != nil {
		return core.Troop{}, err
	}
	capacity, err := w.capacityOf(ss.unitType)
	if err != nil {
		return core.Troop{}, err
	}
	cargo := w.e.cargoOf(slot)
	if cargo.NumTroops() >= capacity.TroopSlots || cargo.NumTotal() >= capacity.TotalSlots {
		return core.Troop{}, ErrCargoFull
	}
	if _, err := w.AdjustPoints(ss.player.Ucid, -spec.Cost, "troops "+spec.Name); err != nil {
		return core.Troop{}, err
	}
	origin := obj.ID
	cargo.Troops = append(cargo.Troops, core.CarriedTroop{Player: ss.player.Ucid, Origin: &origin, Spec: spec})
	w.stat(core.Stat{Kind: core.StatCargo, Side: side, Player: &ss.player.Ucid, Objective: &origin, Value: 1, Detail: "load troops " + spec.Name})
	return spec, nil
}

// UnloadTroops puts the last boarded squad on the ground, enforcing the
// instance limit of its type.
func (w *World) UnloadTroops(ctx context.Context, slot core.SlotID) (core.Troop, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return core.Troop{}, err
	}
	cargo := w.e.cargoOf(slot)
	if len(cargo.Troops) == 0 {
		return core.Troop{}, ErrNoCargo
	}
	if ss.inAir {
		return core.Troop{}, ErrMustLand
	}
	side := ss.player.Side
	if obj, err := w.pointNearLogistics(side, ss.pos); err == nil && obj.Threatened {
		return core.Troop{}, fmt.Errorf("%w: %s", ErrThreatened, obj.Name)
	}
	tr := cargo.Troops[len(cargo.Troops)-1]
	var existing []core.GroupID
	if tr.Spec.Limit > 0 {
		for _, gid := range w.p.Troops.Sorted() {
			g, ok := w.p.Groups[gid]
			if !ok || g.Side != side {
				continue
			}
			if o, ok := g.Origin.(core.OriginTroop); ok && o.Spec.Name == tr.Spec.Name {
				existing = append(existing, gid)
			}
		}
		if len(existing) >= tr.Spec.Limit && tr.Spec.LimitEnforce != core.DeleteOldest {
			return core.Troop{}, fmt.Errorf("%w: %d %s deployed", ErrLimitReached, len(existing), tr.Spec.Name)
		}
	}
	origin := core.OriginTroop{Player: tr.Player, Spec: tr.Spec, Origin: tr.Origin}
	if tr.Player != ss.player.Ucid {
		origin.MovedBy = &ss.player.Ucid
	}
	loc := core.SpawnLoc{AtPos: &core.AtPos{Pos: ss.pos, OffsetDirection: headingDir(ss.heading), Heading: ss.heading}}
	if _, err := w.AddAndQueueGroup(ctx, side, loc, tr.Spec.Template, origin, 0, nil); err != nil {
		return core.Troop{}, err
	}
	cargo.Troops = cargo.Troops[:len(cargo.Troops)-1]
	if tr.Spec.Limit > 0 && len(existing) >= tr.Spec.Limit {
		if err := w.DeleteGroup(existing[0]); err != nil {
			return tr.Spec, err
		}
	}
	w.stat(core.Stat{Kind: core.StatCargo, Side: side, Player: &ss.player.Ucid, Value: -1, Detail: "unload troops " + tr.Spec.Name})
	return tr.Spec, nil
}

// ReturnTroops hands the last boarded squad back to friendly logistics
// and refunds its cost.
func (w *World) ReturnTroops(ctx context.Context, slot core.SlotID) (core.Troop, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return core.Troop{}, err
	}
	if ss.inAir {
		return core.Troop{}, ErrMustLand
	}
	if _, err := w.pointNearLogistics(ss.player.Side, ss.pos); err != nil {
		return core.Troop{}, err
	}
	cargo := w.e.cargoOf(slot)
	if len(cargo.Troops) == 0 {
		return core.Troop{}, ErrNoCargo
	}
	tr := cargo.Troops[len(cargo.Troops)-1]
	cargo.Troops = cargo.Troops[:len(cargo.Troops)-1]
	if _, err := w.AdjustPoints(ss.player.Ucid, tr.Spec.Cost, "returned "+tr.Spec.Name); err != nil {
		return tr.Spec, err
	}
	w.stat(core.Stat{Kind: core.StatCargo, Side: ss.player.Side, Player: &ss.player.Ucid, Value: -1, Detail: "return troops " + tr.Spec.Name})
	return tr.Spec, nil
}

// ExtractTroops boards the closest friendly squad on the ground.
func (w *World) ExtractTroops(ctx context.Context, slot core.SlotID) (core.Troop, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return core.Troop{}, err
	}
	if ss.inAir {
		return core.Troop{}, ErrMustLand
	}
	capacity, err := w.capacityOf(ss.unitType)
	if err != nil {
		return core.Troop{}, err
	}
	cargo := w.e.cargoOf(slot)
	if cargo.NumTroops() >= capacity.TroopSlots || cargo.NumTotal() >= capacity.TotalSlots {
		return core.Troop{}, ErrCargoFull
	}
	var (
		best   *core.Group
		bestD  float64
		origin core.OriginTroop
	)
	for _, gid := range w.p.Troops.Sorted() {
		g, ok := w.p.Groups[gid]
		if !ok || g.Side != ss.player.Side {
			continue
		}
		o, ok := g.Origin.(core.OriginTroop)
		if !ok {
			continue
		}
		for _, uid := range g.Units {
			u, ok := w.p.Units[uid]
			if !ok || u.Dead {
				continue
			}
			if d := u.Pos.Distance(ss.pos); d <= w.cfg.CrateLoadDistance && (best == nil || d < bestD) {
				best, bestD, origin = g, d, o
			}
		}
	}
	if best == nil {
		return core.Troop{}, ErrNoTroops
	}
	if err := w.DeleteGroup(best.ID); err != nil {
		return core.Troop{}, err
	}
	cargo.Troops = append(cargo.Troops, core.CarriedTroop{Player: origin.Player, Origin: origin.Origin, Spec: origin.Spec})
	w.stat(core.Stat{Kind: core.StatCargo, Side: ss.player.Side, Player: &ss.player.Ucid, Value: 1, Detail: "extract troops " + origin.Spec.Name})
	return origin.Spec, nil
}

// Cargo returns what the aircraft in slot carries.
func (w *World) Cargo(slot core.SlotID) core.Cargo {
	if c, ok := w.e.cargo[slot]; ok {
		return *c
	}
	return core.Cargo{}
}
