package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

// SlotAuthKind is the outcome of a slot request.
type SlotAuthKind uint8

const (
	SlotYes SlotAuthKind = iota
	SlotObjectiveNotOwned
	SlotObjectiveHasNoLogistics
	SlotNoLives
	SlotNotRegistered
)

func (k SlotAuthKind) String() string {
	switch k {
	case SlotYes:
		return "yes"
	case SlotObjectiveNotOwned:
		return "objective_not_owned"
	case SlotObjectiveHasNoLogistics:
		return "objective_has_no_logistics"
	case SlotNoLives:
		return "no_lives"
	case SlotNotRegistered:
		return "not_registered"
	}
	return fmt.Sprintf("SlotAuthKind(%d)", uint8(k))
}

// SlotAuth answers whether a player may occupy a slot. Side is the side of
// the player for ObjectiveNotOwned and the side of the slot for
// NotRegistered.
type SlotAuth struct {
	Kind SlotAuthKind `json:"kind"`
	Side core.Side    `json:"side"`
}

// Allowed reports whether the player may take the slot.
func (a SlotAuth) Allowed() bool { return a.Kind == SlotYes }

// Reason is the text shown to a rejected player.
func (a SlotAuth) Reason() string {
	switch a.Kind {
	case SlotObjectiveNotOwned:
		return fmt.Sprintf("this slot's objective is not owned by %s", a.Side)
	case SlotObjectiveHasNoLogistics:
		return "this objective has no logistics"
	case SlotNoLives:
		return "you have no lives left for this aircraft type"
	case SlotNotRegistered:
		return fmt.Sprintf("you must register with %s before taking a slot", a.Side)
	}
	return ""
}

// RegisterErrorKind says why a registration was refused.
type RegisterErrorKind uint8

const (
	RegisterAlreadyRegistered RegisterErrorKind = iota
	RegisterAlreadyOn
)

// RegisterError is returned when a player is registered already.
type RegisterError struct {
	Kind         RegisterErrorKind
	Side         core.Side
	SideSwitches *int
}

func (e *RegisterError) Error() string {
	if e.Kind == RegisterAlreadyOn {
		return fmt.Sprintf("already on %s", e.Side)
	}
	if e.SideSwitches == nil {
		return fmt.Sprintf("already registered with %s, use side switch to change sides", e.Side)
	}
	return fmt.Sprintf("already registered with %s, %d side switches left", e.Side, *e.SideSwitches)
}

// SideSwitchError is a refused side switch.
type SideSwitchError string

func (e SideSwitchError) Error() string { return string(e) }

const (
	ErrSwitchNotRegistered   SideSwitchError = "not registered, choose a side first"
	ErrSwitchNotInSpectators SideSwitchError = "you must be in spectators to switch sides"
	ErrSwitchToNeutral       SideSwitchError = "cannot switch to neutral"
	ErrSwitchSameSide        SideSwitchError = "already on that side"
	ErrSwitchNoSwitchesLeft  SideSwitchError = "no side switches left"
)

// RegisterPlayer adds a new player to side.
func (w *World) RegisterPlayer(ucid core.Ucid, name string, side core.Side) error {
	if side == core.Neutral {
		return ErrSwitchToNeutral
	}
	if p, ok := w.p.Players[ucid]; ok {
		kind := RegisterAlreadyRegistered
		if p.Side == side {
			kind = RegisterAlreadyOn
		}
		return &RegisterError{Kind: kind, Side: p.Side, SideSwitches: p.SideSwitches}
	}
	p := &core.Player{
		Ucid:         ucid,
		Name:         name,
		Side:         side,
		SideSwitches: w.cfg.DefaultSideSwitches(),
		Lives:        make(map[core.LifeType]core.LifeState),
	}
	if w.cfg.Points != nil {
		p.Points = w.cfg.Points.NewPlayerJoin
	}
	w.p.Players[ucid] = p
	w.MarkDirty()
	w.stat(core.Stat{Kind: core.StatRegistered, Side: side, Player: &ucid, Detail: name})
	return nil
}

// SideSwitchPlayer moves a player in spectators to side, using up one of
// their side switches.
func (w *World) SideSwitchPlayer(ucid core.Ucid, side core.Side) error {
	p, ok := w.p.Players[ucid]
	switch {
	case !ok:
		return ErrSwitchNotRegistered
	case p.CurrentSlot != nil:
		return ErrSwitchNotInSpectators
	case side == core.Neutral:
		return ErrSwitchToNeutral
	case p.Side == side:
		return ErrSwitchSameSide
	case p.SideSwitches != nil && *p.SideSwitches <= 0:
		return ErrSwitchNoSwitchesLeft
	}
	if p.SideSwitches != nil {
		*p.SideSwitches--
	}
	p.Side = side
	w.MarkDirty()
	w.stat(core.Stat{Kind: core.StatSideSwitch, Side: side, Player: &ucid})
	return nil
}

// ForceSideSwitchPlayer moves a player to side regardless of budget,
// sending them to spectators first.
func (w *World) ForceSideSwitchPlayer(ucid core.Ucid, side core.Side, now time.Time) error {
	p, err := w.Player(ucid)
	if err != nil {
		return err
	}
	if p.CurrentSlot != nil {
		w.deslot(*p.CurrentSlot)
		w.ForceToSpectators(ucid, now)
	}
	p.Side = side
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatSideSwitch, Side: side, Player: &ucid, Detail: "forced"})
	return nil
}

// PlayerConnected records the name a player joined with and reports
// whether they are registered.
func (w *World) PlayerConnected(ucid core.Ucid, name string, now time.Time) bool {
	p, ok := w.p.Players[ucid]
	if ok && p.Name != name {
		p.SeenName(name)
		w.MarkDirty()
	}
	side := core.Neutral
	if ok {
		side = p.Side
	}
	w.stat(core.Stat{Time: now, Kind: core.StatConnected, Side: side, Player: &ucid, Detail: name})
	return ok
}

// PlayerDisconnected frees every slot held by the player.
func (w *World) PlayerDisconnected(ucid core.Ucid, now time.Time) {
	for _, slot := range sortedKeys(w.e.playersBySlot) {
		if w.e.playersBySlot[slot] == ucid {
			w.deslot(slot)
		}
	}
	delete(w.e.forceSpectators, ucid)
	w.stat(core.Stat{Time: now, Kind: core.StatDisconnected, Player: &ucid})
}

func (w *World) slotInfo(slot core.SlotID) (core.SlotInfo, *core.Objective, bool) {
	oid, ok := w.p.ObjectivesBySlot[slot]
	if !ok {
		return core.SlotInfo{}, nil, false
	}
	obj, ok := w.p.Objectives[oid]
	if !ok {
		return core.SlotInfo{}, nil, false
	}
	info, ok := obj.Slots[slot]
	return info, obj, ok
}

func (w *World) lifeTypeOf(info core.SlotInfo) core.LifeType {
	if info.LifeType != "" {
		return info.LifeType
	}
	return w.cfg.LifeTypeOf(info.UnitType)
}

// TryOccupySlot decides whether ucid may take slot and, when allowed,
// records them in it.
func (w *World) TryOccupySlot(now time.Time, slot core.SlotID, ucid core.Ucid) SlotAuth {
	info, obj, mapped := w.slotInfo(slot)
	kind := core.SlotKindOf(slot)
	if mapped && info.Kind != "" {
		kind = info.Kind
	}
	if kind.IsSpecial() {
		if kind == core.SlotSpectator {
			for _, s := range sortedKeys(w.e.playersBySlot) {
				if w.e.playersBySlot[s] == ucid {
					w.deslot(s)
				}
			}
		}
		return SlotAuth{Kind: SlotYes}
	}
	p, ok := w.p.Players[ucid]
	if !ok {
		return SlotAuth{Kind: SlotNotRegistered, Side: info.Side}
	}
	if !mapped {
		// multicrew positions are not tied to an objective
		w.occupy(slot, p)
		return SlotAuth{Kind: SlotYes}
	}
	if info.Side != p.Side {
		return SlotAuth{Kind: SlotObjectiveNotOwned, Side: p.Side}
	}
	if obj.Owner == core.Neutral || obj.Owner != p.Side {
		return SlotAuth{Kind: SlotObjectiveNotOwned, Side: p.Side}
	}
	if obj.Captureable() {
		return SlotAuth{Kind: SlotObjectiveHasNoLogistics}
	}
	w.maybeResetLives(p, now)
	lt := w.lifeTypeOf(info)
	if st, ok := p.Lives[lt]; ok && st.Lives == 0 {
		return SlotAuth{Kind: SlotNoLives}
	}
	w.occupy(slot, p)
	return SlotAuth{Kind: SlotYes}
}

func (w *World) occupy(slot core.SlotID, p *core.Player) {
	w.e.playersBySlot[slot] = p.Ucid
	s := slot
	p.CurrentSlot = &s
}

// PlayerEnteredSlot binds the host object a slotted player flies.
func (w *World) PlayerEnteredSlot(ctx context.Context, slot core.SlotID, objectID core.ObjectID, now time.Time) error {
	ucid, ok := w.e.playersBySlot[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInSlot, slot)
	}
	p, err := w.Player(ucid)
	if err != nil {
		return err
	}
	w.e.objectBySlot[slot] = objectID
	w.e.slotByObject[objectID] = slot
	delete(w.e.forceSpectators, ucid)
	if st, err := w.host.Instance(ctx, objectID); err == nil {
		p.Instance = w.instanced(p, st)
	} else {
		w.log.Debug("No instance state for slot", "slot", slot, "error", err)
	}
	w.stat(core.Stat{Time: now, Kind: core.StatSlot, Side: p.Side, Player: &ucid, Detail: string(slot)})
	return nil
}

// PlayerLeftSlot frees a slot.
func (w *World) PlayerLeftSlot(slot core.SlotID) {
	w.deslot(slot)
}

func (w *World) deslot(slot core.SlotID) {
	ucid, ok := w.e.playersBySlot[slot]
	delete(w.e.playersBySlot, slot)
	delete(w.e.cargo, slot)
	if oid, found := w.e.objectBySlot[slot]; found {
		delete(w.e.slotByObject, oid)
		delete(w.e.objectBySlot, slot)
	}
	if !ok {
		return
	}
	if p, found := w.p.Players[ucid]; found {
		p.CurrentSlot = nil
		p.Instance = nil
		w.stat(core.Stat{Kind: core.StatDeslot, Side: p.Side, Player: &ucid, Detail: string(slot)})
	}
}

func (w *World) instanced(p *core.Player, st core.InstanceState) *core.InstancedPlayer {
	inst := &core.InstancedPlayer{
		Position: st.Position,
		Velocity: st.Velocity,
		Heading:  st.Heading,
		Typ:      st.Type,
		InAir:    st.InAir,
		AGL:      st.AGL,
	}
	if !st.InAir {
		if p.Instance != nil && p.Instance.LandedAt != nil {
			inst.LandedAt = p.Instance.LandedAt
		} else if obj := w.ownedObjectiveAt(p.Side, inst.Pos()); obj != nil {
			inst.LandedAt = &obj.ID
		}
	}
	return inst
}

// UpdatePlayerPositions refreshes the state of every slotted aircraft.
// Aircraft the host no longer knows are treated as dead.
func (w *World) UpdatePlayerPositions(ctx context.Context, now time.Time) {
	var gone []core.ObjectID
	for _, slot := range sortedKeys(w.e.objectBySlot) {
		oid := w.e.objectBySlot[slot]
		p, ok := w.p.Players[w.e.playersBySlot[slot]]
		if !ok {
			continue
		}
		st, err := w.host.Instance(ctx, oid)
		if errors.Is(err, core.ErrUnknownInstance) {
			gone = append(gone, oid)
			continue
		}
		if err != nil {
			w.log.Warn("Failed to read player position", "slot", slot, "error", err)
			continue
		}
		p.Instance = w.instanced(p, st)
	}
	for _, oid := range gone {
		if err := w.UnitDead(oid, now); err != nil {
			w.log.Debug("Player object vanished", "object", oid, "error", err)
		}
	}
}

// ownedObjectiveAt returns the objective of side whose zone contains pos.
func (w *World) ownedObjectiveAt(side core.Side, pos core.Vector2) *core.Objective {
	for _, obj := range w.Objectives() {
		if obj.Owner == side && geo.Contains(obj.Zone, pos) {
			return obj
		}
	}
	return nil
}

func (w *World) slotted(slot core.SlotID) (*core.Player, core.SlotInfo, error) {
	ucid, ok := w.e.playersBySlot[slot]
	if !ok {
		return nil, core.SlotInfo{}, fmt.Errorf("%w: %s", ErrNotInSlot, slot)
	}
	p, err := w.Player(ucid)
	if err != nil {
		return nil, core.SlotInfo{}, err
	}
	info, _, ok := w.slotInfo(slot)
	if !ok {
		return nil, core.SlotInfo{}, notFound("slot", slot)
	}
	return p, info, nil
}

// Takeoff consumes a life when the player leaves an objective of their
// side. It returns the life type and whether a life was taken.
func (w *World) Takeoff(now time.Time, slot core.SlotID, pos core.Vector2) (core.LifeType, bool, error) {
	p, info, err := w.slotted(slot)
	if err != nil {
		return "", false, err
	}
	if p.Instance != nil {
		p.Instance.InAir = true
		p.Instance.LandedAt = nil
	}
	lt := w.lifeTypeOf(info)
	lc, ok := w.cfg.LivesOf(lt)
	if !ok {
		return lt, false, nil
	}
	st, ok := p.Lives[lt]
	if !ok {
		st = core.LifeState{ResetAt: now, Lives: lc.Lives}
	}
	taken := false
	if w.ownedObjectiveAt(p.Side, pos) != nil {
		if st.Lives > 0 {
			st.Lives--
		}
		taken = true
	}
	p.Lives[lt] = st
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatTakeoff, Side: p.Side, Player: &p.Ucid, Value: int(st.Lives), Detail: string(lt)})
	return lt, taken, nil
}

// Land returns a life when the player lands at an objective of their side.
// A pool back at its maximum is forgotten.
func (w *World) Land(now time.Time, slot core.SlotID, pos core.Vector2) (core.LifeType, bool, error) {
	p, info, err := w.slotted(slot)
	if err != nil {
		return "", false, err
	}
	obj := w.ownedObjectiveAt(p.Side, pos)
	if p.Instance != nil {
		p.Instance.InAir = false
		p.Instance.LandedAt = nil
		if obj != nil {
			p.Instance.LandedAt = &obj.ID
		}
	}
	lt := w.lifeTypeOf(info)
	lc, ok := w.cfg.LivesOf(lt)
	if !ok {
		return lt, false, nil
	}
	st, ok := p.Lives[lt]
	if !ok || obj == nil {
		return lt, false, nil
	}
	st.Lives++
	if st.Lives >= lc.Lives {
		delete(p.Lives, lt)
	} else {
		p.Lives[lt] = st
	}
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatLand, Side: p.Side, Player: &p.Ucid, Value: int(st.Lives), Detail: string(lt)})
	return lt, true, nil
}

// MaybeResetLives forgets life pools whose reset window has passed and
// reports whether any was reset.
func (w *World) MaybeResetLives(ucid core.Ucid, now time.Time) (bool, error) {
	p, err := w.Player(ucid)
	if err != nil {
		return false, err
	}
	return w.maybeResetLives(p, now), nil
}

func (w *World) maybeResetLives(p *core.Player, now time.Time) bool {
	reset := false
	for lt, st := range p.Lives {
		lc, ok := w.cfg.LivesOf(lt)
		if ok && now.Sub(st.ResetAt) < lc.ResetAfter {
			continue
		}
		delete(p.Lives, lt)
		reset = true
		w.stat(core.Stat{Time: now, Kind: core.StatLivesReset, Side: p.Side, Player: &p.Ucid, Detail: string(lt)})
	}
	if reset {
		w.MarkDirty()
	}
	return reset
}

// AdjustPoints adds amount to a player's points and returns the new total.
// Without a points configuration it does nothing.
func (w *World) AdjustPoints(ucid core.Ucid, amount int, reason string) (int, error) {
	p, err := w.Player(ucid)
	if err != nil {
		return 0, err
	}
	if w.cfg.Points == nil || amount == 0 {
		return p.Points, nil
	}
	p.Points += amount
	w.MarkDirty()
	w.stat(core.Stat{Kind: core.StatPoints, Side: p.Side, Player: &ucid, Value: amount, Detail: reason})
	return p.Points, nil
}

func (w *World) canAfford(p *core.Player, cost int) error {
	if w.cfg.Points == nil || cost <= 0 {
		return nil
	}
	if cost > max(0, p.Points) {
		return fmt.Errorf("%w: costs %d, you have %d", ErrInsufficientPoints, cost, p.Points)
	}
	return nil
}
