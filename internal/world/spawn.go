package world

import (
	"context"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
)

// queueBatch is how many queued items one tick handles.
func queueBatch(n int) int {
	return max(2, n/4)
}

// ProcessSpawnQueue talks to the host on behalf of the spawn queues. Due
// delayed spawns are queued first. Pending despawns take priority over
// spawns and a tick handles only one of the two kinds.
func (w *World) ProcessSpawnQueue(ctx context.Context, now time.Time) {
	for _, gid := range w.e.delayQ.PopDue(now) {
		w.e.pushSpawn(gid)
	}
	if n := w.e.despawnQ.Len(); n > 0 {
		for _, it := range w.e.despawnQ.PopN(queueBatch(n)) {
			if g, ok := w.p.Groups[it.gid]; ok {
				for _, uid := range g.Units {
					w.e.clearUnit(uid)
				}
			}
			if err := w.host.Despawn(ctx, it.d); err != nil {
				w.log.Warn("Failed to despawn", "group", it.gid, "despawn", it.d, "error", err)
			}
		}
		return
	}
	n := w.e.spawnQ.Len()
	for _, gid := range w.e.spawnQ.PopN(queueBatch(n)) {
		g, ok := w.p.Groups[gid]
		if !ok {
			continue
		}
		if err := w.SpawnGroup(ctx, g); err != nil {
			w.log.Warn("Failed to spawn", "group", g.Name, "error", err)
		}
	}
}

// SpawnGroup asks the host to instantiate the alive units of g.
func (w *World) SpawnGroup(ctx context.Context, g *core.Group) error {
	req := core.SpawnRequest{
		Group:    g.Name,
		Template: g.TemplateName,
		Side:     g.Side,
		Static:   g.Static,
		Air:      g.Tags.Any(core.Tags(core.TagAircraft, core.TagHelicopter)),
	}
	for _, uid := range g.Units {
		u, ok := w.p.Units[uid]
		if !ok || u.Dead {
			continue
		}
		req.Units = append(req.Units, core.SpawnUnit{
			Name:    u.Name,
			Type:    u.Type,
			Pos:     u.Pos,
			Alt:     u.Alt,
			Heading: u.Heading,
		})
	}
	if len(req.Units) == 0 {
		return nil
	}
	return w.host.Spawn(ctx, req)
}

// RespawnAfterLoad queues everything that must exist on the host after a
// restart and redraws all markup. Garrisons that are culled by proximity
// are left to CullOrRespawnObjectives.
func (w *World) RespawnAfterLoad() {
	for _, gid := range sortedKeys(w.p.Groups) {
		g := w.p.Groups[gid]
		if oid, ok := w.p.ObjectivesByGroup[gid]; ok {
			obj := w.p.Objectives[oid]
			if obj != nil && g.Side == obj.Owner && !w.cullable(obj, g) {
				w.e.pushSpawn(gid)
			}
			continue
		}
		w.e.pushSpawn(gid)
		w.e.groupsToMark.Add(gid)
	}
	for _, obj := range w.p.Objectives {
		obj.NeedsMark = true
	}
}

// cullable reports whether a garrison group follows the spawn state of its
// objective. Logistics and services groups and everything at a FARP stay
// spawned.
func (w *World) cullable(obj *core.Objective, g *core.Group) bool {
	switch {
	case obj.IsFarp():
		return false
	case g.Class.IsLogi():
		return false
	case g.Class.IsServices() && obj.Kind != core.KindAirbase:
		return false
	}
	return true
}
