package world

import (
	"context"
	"fmt"

	"github.com/OCAP2/campaign/pkg/core"
)

var (
	colorRed     = [4]float64{1, 0, 0, 1}
	colorBlue    = [4]float64{0, 0, 1, 1}
	colorNeutral = [4]float64{1, 1, 1, 1}
	colorThreat  = [4]float64{1, 0.5, 0, 1}
	colorCapture = [4]float64{1, 1, 0, 1}
)

func sideColor(s core.Side) [4]float64 {
	switch s {
	case core.Red:
		return colorRed
	case core.Blue:
		return colorBlue
	default:
		return colorNeutral
	}
}

func (w *World) objectiveMarks(obj *core.Objective) []core.Mark {
	r := obj.Zone.BoundingRadius()
	marks := []core.Mark{{
		Kind:   core.MarkCircle,
		Pos:    obj.Zone.Center,
		Radius: r,
		Color:  sideColor(obj.Owner),
	}}
	if obj.Captureable() {
		marks = append(marks, core.Mark{Kind: core.MarkCircle, Pos: obj.Zone.Center, Radius: r * 1.05, Color: colorCapture})
	}
	if obj.Threatened {
		marks = append(marks, core.Mark{Kind: core.MarkCircle, Pos: obj.Zone.Center, Radius: r * 1.1, Color: colorThreat})
	}
	text := fmt.Sprintf("%s\nhealth %d%% logi %d%%", obj.Name, obj.Health, obj.Logi)
	if w.cfg.Warehouse != nil {
		text += fmt.Sprintf("\nsupply %d%% fuel %d%%", obj.Supply, obj.Fuel)
	}
	marks = append(marks, core.Mark{
		Kind:  core.MarkText,
		Pos:   obj.Pos,
		Color: sideColor(obj.Owner),
		Text:  text,
	})
	for _, oid := range obj.Warehouse.Destinations {
		dst, ok := w.p.Objectives[oid]
		if !ok {
			continue
		}
		to := dst.Zone.Center
		marks = append(marks, core.Mark{Kind: core.MarkLine, Side: obj.Owner, Pos: obj.Zone.Center, To: &to, Color: sideColor(obj.Owner)})
	}
	return marks
}

func (w *World) groupLabel(g *core.Group) string {
	who := func(ucid core.Ucid) string {
		if p, ok := w.p.Players[ucid]; ok {
			return p.Name
		}
		return string(ucid)
	}
	switch o := g.Origin.(type) {
	case core.OriginDeployed:
		return fmt.Sprintf("%s %d deployed by %s", o.Spec.Name(), g.ID, who(o.Player))
	case core.OriginTroop:
		return fmt.Sprintf("%s %d dropped by %s", o.Spec.Name, g.ID, who(o.Player))
	case core.OriginCrate:
		return fmt.Sprintf("%s crate %d", o.Spec.Name, g.ID)
	case core.OriginAction:
		return fmt.Sprintf("%s %d", o.Name, g.ID)
	default:
		return g.Name
	}
}

func (w *World) placeMark(ctx context.Context, m core.Mark) (core.MarkID, bool) {
	m.ID = w.e.allocMark()
	if err := w.host.Mark(ctx, m); err != nil {
		w.log.Warn("Failed to place mark", "text", m.Text, "error", err)
		return 0, false
	}
	return m.ID, true
}

// UpdateMarkup removes stale marks and redraws objectives and groups that
// changed since the last call.
func (w *World) UpdateMarkup(ctx context.Context) {
	for _, id := range w.e.marksToRemove {
		if err := w.host.RemoveMark(ctx, id); err != nil {
			w.log.Warn("Failed to remove mark", "mark", id, "error", err)
		}
	}
	w.e.marksToRemove = nil

	for _, oid := range sortedKeys(w.p.Objectives) {
		obj := w.p.Objectives[oid]
		if !obj.NeedsMark {
			continue
		}
		for _, id := range w.e.objectiveMarks[oid] {
			if err := w.host.RemoveMark(ctx, id); err != nil {
				w.log.Warn("Failed to remove mark", "mark", id, "error", err)
			}
		}
		var ids []core.MarkID
		for _, m := range w.objectiveMarks(obj) {
			if id, ok := w.placeMark(ctx, m); ok {
				ids = append(ids, id)
			}
		}
		w.e.objectiveMarks[oid] = ids
		obj.NeedsMark = false
	}

	for _, gid := range w.e.groupsToMark.Sorted() {
		g, ok := w.p.Groups[gid]
		if !ok {
			continue
		}
		if old, ok := w.e.groupMarks[gid]; ok {
			if err := w.host.RemoveMark(ctx, old); err != nil {
				w.log.Warn("Failed to remove mark", "mark", old, "error", err)
			}
			delete(w.e.groupMarks, gid)
		}
		m := core.Mark{Kind: core.MarkText, Side: g.Side, Pos: w.groupCenter(g), Color: sideColor(g.Side), Text: w.groupLabel(g)}
		if id, ok := w.placeMark(ctx, m); ok {
			w.e.groupMarks[gid] = id
		}
	}
	w.e.groupsToMark = idSet[core.GroupID]{}
}
