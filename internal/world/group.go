package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

// crateMinDistance is how close the nearest unit of an AtPos group lands
// to the requested position.
const crateMinDistance = 20.0

type placement struct {
	pos     core.Vector2
	heading float64
}

// AddGroup creates a group from a template at loc. Nothing is spawned on the
// host; use AddAndQueueGroup or PushSpawn for that.
func (w *World) AddGroup(ctx context.Context, side core.Side, loc core.SpawnLoc, templateName string, origin core.DeployKind, extraTags core.UnitTags) (core.GroupID, error) {
	if origin == nil {
		return 0, errors.New("group origin is required")
	}
	tmpl, err := w.templates.Get(side, templateName)
	if err != nil {
		return 0, err
	}
	var obj *core.Objective
	if o, ok := origin.(core.OriginObjective); ok {
		if obj, err = w.Objective(o.Objective); err != nil {
			return 0, err
		}
	}
	var player *core.Player
	if o, ok := origin.(core.OriginCrate); ok {
		if player, err = w.Player(o.Player); err != nil {
			return 0, err
		}
	}

	places, err := unitPlacements(tmpl, loc)
	if err != nil {
		return 0, err
	}
	// mission placed garrisons are trusted
	if loc.InAir == nil && obj == nil {
		for _, pl := range places {
			if w.host.IsWater(ctx, pl.pos) {
				return 0, ErrInWater
			}
		}
	}
	unitTags := make([]core.UnitTags, len(tmpl.Units))
	for i, tu := range tmpl.Units {
		tags, ok := w.cfg.UnitTagsOf(tu.Type)
		if !ok {
			return 0, fmt.Errorf("unit type %s of template %s is not classified", tu.Type, templateName)
		}
		unitTags[i] = tags.With(extraTags)
	}
	alt := 0.0
	if loc.InAir != nil {
		alt = loc.InAir.Altitude
	}

	gid := w.p.nextGroupID()
	g := &core.Group{
		ID:           gid,
		Name:         fmt.Sprintf("%s-%d", templateName, gid),
		TemplateName: templateName,
		Side:         side,
		Static:       tmpl.Static,
		Class:        core.ClassFromTemplate(templateName),
		Origin:       origin,
	}
	for i, tu := range tmpl.Units {
		uid := w.p.nextUnitID()
		u := &core.Unit{
			ID:           uid,
			Name:         fmt.Sprintf("%s-%d", g.Name, uid),
			Group:        gid,
			Side:         side,
			Type:         tu.Type,
			Tags:         unitTags[i],
			TemplateName: tu.Name,
			SpawnPos:     places[i].pos,
			SpawnHeading: places[i].heading,
			Pos:          places[i].pos,
			Alt:          alt,
			Heading:      places[i].heading,
		}
		g.Units = append(g.Units, uid)
		g.Tags = g.Tags.With(u.Tags)
		w.p.Units[uid] = u
		w.p.UnitsByName[u.Name] = uid
	}
	w.p.Groups[gid] = g
	w.p.GroupsByName[g.Name] = gid
	w.p.GroupsBySide[side].Add(gid)

	switch o := origin.(type) {
	case core.OriginObjective:
		w.p.ObjectivesByGroup[gid] = o.Objective
		obj.Groups[side] = append(obj.Groups[side], gid)
	case core.OriginDeployed:
		w.p.Deployed.Add(gid)
	case core.OriginTroop:
		w.p.Troops.Add(gid)
	case core.OriginCrate:
		w.p.Crates.Add(gid)
		player.Crates = append(player.Crates, gid)
	case core.OriginAction:
		w.p.Actions.Add(gid)
	}
	if obj == nil {
		w.e.groupsToMark.Add(gid)
	}
	w.MarkDirty()
	w.stat(core.Stat{Kind: core.StatGroupAdd, Side: side, Group: &gid, Detail: core.DeployKindName(origin)})
	return gid, nil
}

// AddAndQueueGroup adds a group and queues it for spawning, immediately or
// at delay when it is set.
func (w *World) AddAndQueueGroup(ctx context.Context, side core.Side, loc core.SpawnLoc, templateName string, origin core.DeployKind, extraTags core.UnitTags, delay *time.Time) (core.GroupID, error) {
	gid, err := w.AddGroup(ctx, side, loc, templateName, origin, extraTags)
	if err != nil {
		return 0, err
	}
	if delay != nil {
		w.e.delayQ.Push(*delay, gid)
	} else {
		w.e.pushSpawn(gid)
	}
	return gid, nil
}

func unitPlacements(tmpl core.Template, loc core.SpawnLoc) ([]placement, error) {
	if len(tmpl.Units) == 0 {
		return nil, fmt.Errorf("template %s has no units", tmpl.Name)
	}
	out := make([]placement, len(tmpl.Units))
	center := templateCenter(tmpl)
	switch {
	case loc.InAir != nil:
		for i, u := range tmpl.Units {
			out[i] = placement{
				pos:     loc.InAir.Pos.Add(u.Pos.Sub(center).Rotate(loc.InAir.Heading)),
				heading: loc.InAir.Heading,
			}
		}
	case loc.AtPosWithCenter != nil:
		delta := loc.AtPosWithCenter.Pos.Sub(loc.AtPosWithCenter.Center)
		for i, u := range tmpl.Units {
			out[i] = placement{pos: u.Pos.Add(delta), heading: u.Heading}
		}
	case loc.AtPos != nil:
		at := loc.AtPos
		dir := at.OffsetDirection.Unit()
		radius := 0.0
		for _, u := range tmpl.Units {
			radius = max(radius, u.Pos.Distance(center))
		}
		gc := at.Pos.Add(dir.Scale(radius))
		minD := -1.0
		for i, u := range tmpl.Units {
			p := gc.Add(u.Pos.Sub(center).Rotate(at.Heading))
			out[i] = placement{pos: p, heading: at.Heading}
			if d := p.Distance(at.Pos); minD < 0 || d < minD {
				minD = d
			}
		}
		shift := dir.Scale(crateMinDistance - minD)
		for i := range out {
			out[i].pos = out[i].pos.Add(shift)
		}
	case loc.AtPosWithComponents != nil:
		at := loc.AtPosWithComponents
		byType := make(map[string][]core.Vector2)
		var rest []core.Vector2
		for _, u := range tmpl.Units {
			if _, ok := at.Components[u.Type]; ok {
				byType[u.Type] = append(byType[u.Type], u.Pos)
			} else {
				rest = append(rest, u.Pos)
			}
		}
		centers := make(map[string]core.Vector2, len(byType))
		for typ, pts := range byType {
			centers[typ] = geo.Centroid(pts)
		}
		restCenter := geo.Centroid(rest)
		for i, u := range tmpl.Units {
			if c, ok := centers[u.Type]; ok {
				out[i] = placement{pos: at.Components[u.Type].Add(u.Pos.Sub(c).Rotate(at.Heading)), heading: at.Heading}
			} else {
				out[i] = placement{pos: at.Pos.Add(u.Pos.Sub(restCenter).Rotate(at.Heading)), heading: at.Heading}
			}
		}
	default:
		return nil, errors.New("spawn location has no variant set")
	}
	return out, nil
}

// DeleteGroup removes a group and its units from the store and queues the
// removal of its host objects.
func (w *World) DeleteGroup(gid core.GroupID) error {
	g, err := w.Group(gid)
	if err != nil {
		return err
	}
	w.e.pushDespawn(gid, w.despawnsOf(g)...)

	delete(w.p.GroupsByName, g.Name)
	w.p.GroupsBySide[g.Side].Remove(gid)
	if oid, ok := w.p.ObjectivesByGroup[gid]; ok {
		delete(w.p.ObjectivesByGroup, gid)
		if obj, ok := w.p.Objectives[oid]; ok {
			obj.Groups[g.Side] = slices.DeleteFunc(obj.Groups[g.Side], func(id core.GroupID) bool { return id == gid })
		}
	}
	w.p.Deployed.Remove(gid)
	w.p.Troops.Remove(gid)
	w.p.Actions.Remove(gid)
	if w.p.Crates.Has(gid) {
		w.p.Crates.Remove(gid)
		if o, ok := g.Origin.(core.OriginCrate); ok {
			if pl, ok := w.p.Players[o.Player]; ok {
				pl.Crates = slices.DeleteFunc(pl.Crates, func(id core.GroupID) bool { return id == gid })
			}
		}
	}
	if mid, ok := w.e.groupMarks[gid]; ok {
		w.e.marksToRemove = append(w.e.marksToRemove, mid)
		delete(w.e.groupMarks, gid)
	}
	w.e.groupsToMark.Remove(gid)
	for _, uid := range g.Units {
		w.e.clearUnit(uid)
		if u, ok := w.p.Units[uid]; ok {
			delete(w.p.UnitsByName, u.Name)
		}
		delete(w.p.Units, uid)
	}
	delete(w.p.Groups, gid)
	w.MarkDirty()
	w.stat(core.Stat{Kind: core.StatGroupDelete, Side: g.Side, Group: &gid, Detail: g.Name})
	return nil
}

func (w *World) despawnsOf(g *core.Group) []core.Despawn {
	if !g.Static {
		return []core.Despawn{core.DespawnGroup(g.Name)}
	}
	out := make([]core.Despawn, 0, len(g.Units))
	for _, uid := range g.Units {
		if u, ok := w.p.Units[uid]; ok {
			out = append(out, core.DespawnStatic(u.Name))
		}
	}
	return out
}

// GroupHealth returns the number of alive and total units of a group.
func (w *World) GroupHealth(gid core.GroupID) (alive, total int, err error) {
	g, err := w.Group(gid)
	if err != nil {
		return 0, 0, err
	}
	for _, uid := range g.Units {
		total++
		if u, ok := w.p.Units[uid]; ok && !u.Dead {
			alive++
		}
	}
	return alive, total, nil
}

func (w *World) groupCenter(g *core.Group) core.Vector2 {
	var pts []core.Vector2
	for _, uid := range g.Units {
		if u, ok := w.p.Units[uid]; ok && !u.Dead {
			pts = append(pts, u.Pos)
		}
	}
	return geo.Centroid(pts)
}

// isInstanced reports whether any unit of g is live on the host.
func (w *World) isInstanced(g *core.Group) bool {
	for _, uid := range g.Units {
		if _, ok := w.e.objectByUnit[uid]; ok {
			return true
		}
	}
	return false
}

// UnitBorn binds a host object to the unit it instantiates.
func (w *World) UnitBorn(objectID core.ObjectID, unitName string) error {
	u, err := w.UnitByName(unitName)
	if err != nil {
		return err
	}
	if old, ok := w.e.objectByUnit[u.ID]; ok {
		delete(w.e.uidByObject, old)
	}
	w.e.uidByObject[objectID] = u.ID
	w.e.objectByUnit[u.ID] = objectID
	if _, garrison := w.p.ObjectivesByGroup[u.Group]; !garrison {
		w.e.closeToEnemies.Add(u.ID)
	}
	if u.Tags.Has(core.TagDriveable) {
		w.e.addAbleToMove(u.ID)
	}
	return nil
}

// UnitPlayerOperated records a player taking or leaving control of a world
// unit. A garrison unit under player control keeps its objective spawned.
func (w *World) UnitPlayerOperated(objectID core.ObjectID, operated bool) error {
	uid, ok := w.e.uidByObject[objectID]
	if !ok {
		return notFound("object", objectID)
	}
	if operated {
		w.e.playerOperated.Add(uid)
	} else {
		w.e.playerOperated.Remove(uid)
	}
	return nil
}

// UnitDead handles the destruction of a host object. Player aircraft are
// deslotted, world units are marked dead and their group reacts according
// to its origin.
func (w *World) UnitDead(objectID core.ObjectID, now time.Time) error {
	if slot, ok := w.e.slotByObject[objectID]; ok {
		ucid, slotted := w.e.playersBySlot[slot]
		w.deslot(slot)
		if slotted {
			w.ForceToSpectators(ucid, now)
		}
		return nil
	}
	uid, ok := w.e.uidByObject[objectID]
	if !ok {
		return notFound("object", objectID)
	}
	w.e.clearUnit(uid)
	return w.unitDead(uid, now)
}

func (w *World) unitDead(uid core.UnitID, now time.Time) error {
	u, err := w.Unit(uid)
	if err != nil {
		return err
	}
	if u.Dead {
		return nil
	}
	u.Dead = true
	u.Pos = u.SpawnPos
	u.Heading = u.SpawnHeading
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatUnitDead, Side: u.Side, Group: &u.Group, Unit: &uid, Detail: u.Type})

	g, err := w.Group(u.Group)
	if err != nil {
		return err
	}
	if oid, ok := w.p.ObjectivesByGroup[g.ID]; ok {
		return w.UpdateObjectiveStatus(oid, now)
	}
	switch g.Origin.(type) {
	case core.OriginDeployed, core.OriginTroop, core.OriginCrate:
		alive, _, err := w.GroupHealth(g.ID)
		if err != nil {
			return err
		}
		if alive == 0 {
			return w.DeleteGroup(g.ID)
		}
		w.e.groupsToMark.Add(g.ID)
	case core.OriginAction:
		return w.DeleteGroup(g.ID)
	}
	return nil
}

// UpdateUnitPositions refreshes a slice of the movable units from the host
// so that a full pass takes about ten calls.
func (w *World) UpdateUnitPositions(ctx context.Context, now time.Time) {
	n := len(w.e.ableToMove)
	if n == 0 {
		return
	}
	var gone []core.ObjectID
	for range max(1, n/10) {
		if w.e.moveCursor >= len(w.e.ableToMove) {
			w.e.moveCursor = 0
		}
		uid := w.e.ableToMove[w.e.moveCursor]
		w.e.moveCursor++

		oid, ok := w.e.objectByUnit[uid]
		if !ok {
			continue
		}
		st, err := w.host.Instance(ctx, oid)
		if errors.Is(err, core.ErrUnknownInstance) {
			gone = append(gone, oid)
			continue
		}
		if err != nil {
			w.log.Warn("Failed to read unit position", "unit", uid, "error", err)
			continue
		}
		u, ok := w.p.Units[uid]
		if !ok {
			continue
		}
		pos := st.Position.Flat()
		if u.Pos.DistanceSq(pos) < 1 {
			continue
		}
		u.Pos = pos
		u.Alt = st.Position.Y
		u.Heading = st.Heading
		u.Moved = &now
		w.e.closeToEnemies.Add(uid)
		if _, garrison := w.p.ObjectivesByGroup[u.Group]; !garrison {
			w.e.groupsToMark.Add(u.Group)
		}
		w.MarkDirty()
	}
	for _, oid := range gone {
		if err := w.UnitDead(oid, now); err != nil {
			w.log.Debug("Unit vanished", "object", oid, "error", err)
		}
	}
}
