package world

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

const servicesDelay = 3 * time.Minute

// ComputeObjectiveStatus derives health and logistics percentages from the
// owner's garrison. Invincible units do not count. Without units to count
// both are 100.
func (w *World) ComputeObjectiveStatus(obj *core.Objective) (health, logi uint8) {
	var alive, total, logiAlive, logiTotal int
	for _, gid := range obj.Garrison() {
		g, ok := w.p.Groups[gid]
		if !ok {
			continue
		}
		for _, uid := range g.Units {
			u, ok := w.p.Units[uid]
			if !ok || u.Tags.Has(core.TagInvincible) {
				continue
			}
			total++
			if !u.Dead {
				alive++
			}
			if g.Class.IsLogi() {
				logiTotal++
				if !u.Dead {
					logiAlive++
				}
			}
		}
	}
	health, logi = 100, 100
	if total > 0 {
		health = uint8(alive * 100 / total)
	}
	if logiTotal > 0 {
		logi = uint8(logiAlive * 100 / logiTotal)
	}
	return health, logi
}

// UpdateObjectiveStatus recomputes health and logi. A FARP whose logistics
// are destroyed is deleted.
func (w *World) UpdateObjectiveStatus(oid core.ObjectiveID, now time.Time) error {
	obj, err := w.Objective(oid)
	if err != nil {
		return err
	}
	health, logi := w.ComputeObjectiveStatus(obj)
	changed := health != obj.Health || logi != obj.Logi
	obj.Health, obj.Logi = health, logi
	obj.LastChange = now
	obj.NeedsMark = true
	w.MarkDirty()
	if changed {
		w.stat(core.Stat{
			Time:      now,
			Kind:      core.StatObjectiveHealth,
			Side:      obj.Owner,
			Objective: &oid,
			Value:     int(health),
			Detail:    fmt.Sprintf("logi %d", logi),
		})
	}
	if obj.IsFarp() && logi == 0 {
		w.log.Info("FARP lost its logistics", "objective", obj.Name)
		return w.DeleteObjective(oid)
	}
	return nil
}

func (w *World) reviveGroup(g *core.Group) int {
	n := 0
	for _, uid := range g.Units {
		if u, ok := w.p.Units[uid]; ok && u.Dead {
			u.Dead = false
			n++
		}
	}
	return n
}

func (w *World) deadUnits(g *core.Group) int {
	n := 0
	for _, uid := range g.Units {
		if u, ok := w.p.Units[uid]; ok && u.Dead {
			n++
		}
	}
	return n
}

// RepairObjective fully repairs the most damaged group of the highest
// priority class of the owner's garrison.
func (w *World) RepairObjective(oid core.ObjectiveID, now time.Time) error {
	obj, err := w.Objective(oid)
	if err != nil {
		return err
	}
	byClass := make(map[core.GroupClass][]*core.Group)
	for _, gid := range obj.Garrison() {
		g, ok := w.p.Groups[gid]
		if ok && w.deadUnits(g) > 0 {
			byClass[g.Class] = append(byClass[g.Class], g)
		}
	}
	for _, class := range core.RepairOrder {
		groups := byClass[class]
		if len(groups) == 0 {
			continue
		}
		target := groups[0]
		for _, g := range groups[1:] {
			if w.deadUnits(g) > w.deadUnits(target) {
				target = g
			}
		}
		n := w.reviveGroup(target)
		if obj.Spawned || (class.IsServices() && obj.Kind != core.KindAirbase) {
			w.e.pushSpawn(target.ID)
		}
		w.stat(core.Stat{Time: now, Kind: core.StatRepair, Side: obj.Owner, Objective: &oid, Group: &target.ID, Value: n})
		return w.UpdateObjectiveStatus(oid, now)
	}
	return nil
}

// MaybeDoRepairs repairs objectives whose repair timer ran out. The timer
// scales inversely with the logistics percentage.
func (w *World) MaybeDoRepairs(now time.Time) error {
	for _, oid := range sortedKeys(w.p.Objectives) {
		obj, ok := w.p.Objectives[oid]
		if !ok || obj.Logi == 0 || obj.Health >= 100 {
			continue
		}
		wait := time.Duration(int64(w.cfg.RepairTime) * 100 / int64(obj.Logi))
		if now.Sub(obj.LastChange) < wait {
			continue
		}
		if err := w.RepairObjective(oid, now); err != nil {
			return err
		}
	}
	return nil
}

// RepairOneLogiStep revives dead logistics units of side's garrison at
// oid, half a group plus one at a time.
func (w *World) RepairOneLogiStep(side core.Side, oid core.ObjectiveID, now time.Time) error {
	obj, err := w.Objective(oid)
	if err != nil {
		return err
	}
	var logi []*core.Group
	maxLen := 0
	for _, gid := range obj.Groups[side] {
		if g, ok := w.p.Groups[gid]; ok && g.Class.IsLogi() {
			logi = append(logi, g)
			maxLen = max(maxLen, len(g.Units))
		}
	}
	toRepair := 1 + maxLen/2
	for _, g := range logi {
		repaired := false
		for _, uid := range g.Units {
			if toRepair == 0 {
				break
			}
			if u, ok := w.p.Units[uid]; ok && u.Dead {
				u.Dead = false
				toRepair--
				repaired = true
			}
		}
		if repaired && obj.Spawned {
			w.e.pushSpawn(g.ID)
		}
	}
	return w.UpdateObjectiveStatus(oid, now)
}

// RepairServices hands the services of oid to side: other sides' services
// are despawned and side's are revived and spawned after a delay.
func (w *World) RepairServices(side core.Side, oid core.ObjectiveID, now time.Time) error {
	obj, err := w.Objective(oid)
	if err != nil {
		return err
	}
	for _, s := range core.Sides {
		if s == side {
			continue
		}
		for _, gid := range obj.Groups[s] {
			if g, ok := w.p.Groups[gid]; ok && g.Class.IsServices() && w.isInstanced(g) {
				w.e.pushDespawn(gid, w.despawnsOf(g)...)
			}
		}
	}
	for _, gid := range obj.Groups[side] {
		if g, ok := w.p.Groups[gid]; ok && g.Class.IsServices() {
			w.reviveGroup(g)
			w.e.delayQ.Push(now.Add(servicesDelay), gid)
		}
	}
	return w.UpdateObjectiveStatus(oid, now)
}

// DeleteObjective removes a FARP with everything it owns.
func (w *World) DeleteObjective(oid core.ObjectiveID) error {
	obj, err := w.Objective(oid)
	if err != nil {
		return err
	}
	for _, side := range core.Sides {
		for _, gid := range slices.Clone(obj.Groups[side]) {
			if err := w.DeleteGroup(gid); err != nil {
				return err
			}
		}
	}
	for slot := range obj.Slots {
		delete(w.p.ObjectivesBySlot, slot)
	}
	if obj.Farp != nil {
		delete(w.e.usedPads, obj.Farp.PadTemplate)
	}
	w.p.Farps.Remove(oid)
	delete(w.p.ObjectivesByName, obj.Name)
	w.e.marksToRemove = append(w.e.marksToRemove, w.e.objectiveMarks[oid]...)
	delete(w.e.objectiveMarks, oid)
	delete(w.p.Objectives, oid)
	w.setupSupplyLines()
	w.MarkDirty()
	w.stat(core.Stat{Kind: core.StatObjectiveDelete, Side: obj.Owner, Objective: &oid, Detail: obj.Name})
	return nil
}

type presence struct {
	side    core.Side
	typ     string
	pos     core.Vector2
	pos3    core.Vector3
	ahead30 core.Vector2
	ahead60 core.Vector2
}

// CullOrRespawnObjectives updates threat state and decides which
// garrisons exist on the host. Objectives spawn when an enemy is within
// cull distance or a garrison unit walks about, and are culled once none
// is, the threat cleared and cullAfter passed since the last activation.
func (w *World) CullOrRespawnObjectives(ctx context.Context, now time.Time) (threatened, cleared []core.ObjectiveID) {
	var players []presence
	for _, slot := range sortedKeys(w.e.playersBySlot) {
		pl, ok := w.p.Players[w.e.playersBySlot[slot]]
		if !ok || pl.Instance == nil {
			continue
		}
		inst := pl.Instance
		players = append(players, presence{
			side:    pl.Side,
			typ:     inst.Typ,
			pos:     inst.Pos(),
			pos3:    inst.Position,
			ahead30: inst.ProjectedPos(30 * time.Second),
			ahead60: inst.ProjectedPos(60 * time.Second),
		})
	}
	unitCull := w.cfg.UnitCullDistance * w.cfg.UnitCullDistance
	groundCull := w.cfg.GroundVehicleCullDistance * w.cfg.GroundVehicleCullDistance
	air := core.Tags(core.TagAircraft, core.TagHelicopter)
	near := idSet[core.UnitID]{}

	for _, oid := range sortedKeys(w.p.Objectives) {
		obj := w.p.Objectives[oid]
		spawn, threat := false, false

		for _, pl := range players {
			if pl.side == obj.Owner {
				continue
			}
			d2 := obj.Pos.DistanceSq(pl.pos)
			if d2 <= unitCull || obj.Pos.DistanceSq(pl.ahead30) <= unitCull || obj.Pos.DistanceSq(pl.ahead60) <= unitCull {
				spawn = true
			}
			if threat {
				continue
			}
			td := w.cfg.ThreatDistanceOf(pl.typ)
			if d2 <= td*td {
				// the host raises points below the terrain to ground level
				eye := core.Vector3{X: obj.Pos.X, Z: obj.Pos.Y}
				if w.host.LineOfSight(ctx, eye, pl.pos3) {
					threat = true
				}
			}
		}
		for _, uid := range w.e.closeToEnemies.Sorted() {
			u, ok := w.p.Units[uid]
			if !ok || u.Dead || u.Side == obj.Owner {
				continue
			}
			d2 := obj.Pos.DistanceSq(u.Pos)
			isAir := u.Tags.Any(air)
			limit := groundCull
			if isAir {
				limit = unitCull
			}
			if d2 > limit {
				continue
			}
			spawn = true
			near.Add(uid)
			if !isAir {
				threat = true
			} else if td := w.cfg.ThreatDistanceOf(u.Type); d2 <= td*td {
				threat = true
			}
		}
		walkabout := idSet[core.GroupID]{}
		for _, gid := range obj.Garrison() {
			g, ok := w.p.Groups[gid]
			if !ok {
				continue
			}
			for _, uid := range g.Units {
				u, ok := w.p.Units[uid]
				if !ok || u.Dead {
					continue
				}
				_, live := w.e.objectByUnit[uid]
				if w.e.playerOperated.Has(uid) || (live && !geo.Contains(obj.Zone, u.Pos)) {
					walkabout.Add(gid)
					spawn = true
					break
				}
			}
		}

		if spawn {
			obj.LastActivate = now
		}
		if threat {
			if !obj.Threatened {
				threatened = append(threatened, oid)
				obj.NeedsMark = true
				w.stat(core.Stat{Time: now, Kind: core.StatThreat, Side: obj.Owner, Objective: &oid, Value: 1})
			}
			obj.Threatened = true
			obj.LastThreatened = now
		} else if obj.Threatened && now.Sub(obj.LastThreatened) >= w.cfg.ThreatenedCooldown {
			obj.Threatened = false
			obj.NeedsMark = true
			cleared = append(cleared, oid)
			w.stat(core.Stat{Time: now, Kind: core.StatThreat, Side: obj.Owner, Objective: &oid, Value: 0})
		}

		switch {
		case !obj.Spawned && spawn:
			obj.Spawned = true
			for _, gid := range obj.Garrison() {
				g, ok := w.p.Groups[gid]
				if !ok || walkabout.Has(gid) || !w.cullable(obj, g) {
					continue
				}
				for _, uid := range g.Units {
					if u, ok := w.p.Units[uid]; ok && !geo.Contains(obj.Zone, u.Pos) {
						u.Pos = u.SpawnPos
						u.Heading = u.SpawnHeading
					}
				}
				w.e.pushSpawn(gid)
			}
		case obj.Spawned && !spawn && !obj.Threatened && now.Sub(obj.LastActivate) >= w.cfg.CullAfter:
			obj.Spawned = false
			for _, gid := range obj.Garrison() {
				g, ok := w.p.Groups[gid]
				if !ok || walkabout.Has(gid) || !w.cullable(obj, g) {
					continue
				}
				if alive, _, _ := w.GroupHealth(gid); alive > 0 {
					w.e.pushDespawn(gid, w.despawnsOf(g)...)
				}
			}
		}
	}
	w.e.closeToEnemies = near
	return threatened, cleared
}

// Capture is a change of ownership decided by CheckCapture.
type Capture struct {
	Objective core.ObjectiveID
	Name      string
	From      core.Side
	To        core.Side
	Players   []core.Ucid
}

type captureEntry struct {
	side   core.Side
	player core.Ucid
	origin *core.ObjectiveID
	gid    core.GroupID
}

// CheckCapture hands captureable objectives to the side whose capture
// capable troops are inside the zone. Troops of more than one side in the
// same zone block the capture. All decisions are made before any objective
// changes hands.
func (w *World) CheckCapture(now time.Time) ([]Capture, error) {
	type plan struct {
		obj     *core.Objective
		side    core.Side
		entries []captureEntry
	}
	var plans []plan
	for _, oid := range sortedKeys(w.p.Objectives) {
		obj := w.p.Objectives[oid]
		if !obj.Captureable() {
			continue
		}
		var entries []captureEntry
		for _, gid := range w.p.Troops.Sorted() {
			g, ok := w.p.Groups[gid]
			if !ok {
				continue
			}
			troop, ok := g.Origin.(core.OriginTroop)
			if !ok || !troop.Spec.CanCapture {
				continue
			}
			for _, uid := range g.Units {
				if u, ok := w.p.Units[uid]; ok && !u.Dead && geo.Contains(obj.Zone, u.Pos) {
					entries = append(entries, captureEntry{side: g.Side, player: troop.Player, origin: troop.Origin, gid: gid})
					break
				}
			}
		}
		if len(entries) == 0 {
			continue
		}
		side := entries[0].side
		unanimous := true
		for _, e := range entries[1:] {
			if e.side != side {
				unanimous = false
				break
			}
		}
		if unanimous {
			plans = append(plans, plan{obj: obj, side: side, entries: entries})
		}
	}

	var out []Capture
	for _, p := range plans {
		c, err := w.commitCapture(p.obj, p.side, p.entries, now)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (w *World) commitCapture(obj *core.Objective, side core.Side, entries []captureEntry, now time.Time) (Capture, error) {
	oid := obj.ID
	prev := obj.Owner
	obj.Owner = side
	obj.Spawned = false
	obj.Threatened = true
	obj.LastThreatened = now
	obj.LastActivate = now
	if prev != side {
		for _, gid := range obj.Groups[side] {
			g, ok := w.p.Groups[gid]
			if !ok {
				continue
			}
			for _, uid := range g.Units {
				if _, live := w.e.objectByUnit[uid]; !live {
					w.p.Units[uid].Dead = true
				}
			}
		}
		for _, s := range core.Sides {
			if s == side {
				continue
			}
			for _, gid := range obj.Groups[s] {
				g, ok := w.p.Groups[gid]
				if !ok {
					continue
				}
				for _, uid := range g.Units {
					if _, live := w.e.objectByUnit[uid]; live {
						w.e.closeToEnemies.Add(uid)
					}
				}
			}
		}
		if w.cfg.Warehouse != nil {
			w.captureWarehouse(obj, prev)
			w.setupSupplyLines()
			w.updateSupplyStatus()
		}
	}
	if err := w.RepairOneLogiStep(side, oid, now); err != nil {
		return Capture{}, err
	}
	if err := w.RepairServices(side, oid, now); err != nil {
		return Capture{}, err
	}
	for _, e := range entries {
		if _, ok := w.p.Groups[e.gid]; ok {
			if err := w.DeleteGroup(e.gid); err != nil {
				return Capture{}, err
			}
		}
	}

	var ucids []core.Ucid
	for _, e := range entries {
		if prev == side && e.origin != nil && *e.origin == oid {
			continue
		}
		if !slices.Contains(ucids, e.player) {
			ucids = append(ucids, e.player)
		}
	}
	if w.cfg.Points != nil && len(ucids) > 0 {
		share := int(math.Ceil(float64(w.cfg.Points.Capture) / float64(len(ucids))))
		for _, ucid := range ucids {
			if _, err := w.AdjustPoints(ucid, share, "capture of "+obj.Name); err != nil {
				w.log.Warn("Failed to award capture points", "player", ucid, "error", err)
			}
		}
	}
	obj.NeedsMark = true
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatCapture, Side: side, Objective: &oid, Value: len(ucids), Detail: obj.Name})
	w.log.Info("Objective captured", "objective", obj.Name, "from", prev, "to", side)
	return Capture{Objective: oid, Name: obj.Name, From: prev, To: side, Players: ucids}, nil
}
