package world

import (
	"context"
	"fmt"
	"time"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

const (
	farpRadius     = 2000.0
	farpSpawnDelay = time.Minute
	defaultGrid    = "UK"
)

// freePad returns the first pad template of spec that no FARP uses. The
// pad of the FARP freed, if any, counts as available.
func (w *World) freePad(spec *core.Deployable, freed string) (string, error) {
	for _, pad := range spec.Logistics.PadTemplates {
		if _, used := w.e.usedPads[pad]; !used || pad == freed {
			return pad, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoPads, spec.Name())
}

func (w *World) farpName(pos core.Vector2) string {
	grid := defaultGrid
	if w.proj != nil {
		grid = w.proj.GridName(pos)
	}
	for n := 1; ; n++ {
		name := geo.FarpName(grid, n)
		if _, taken := w.p.ObjectivesByName[name]; !taken {
			return name
		}
	}
}

// farpPlan is a FARP whose pad and templates have been resolved.
type farpPlan struct {
	pad    string
	names  []string
	center core.Vector2
}

// planFarp resolves the pad and part templates of a FARP built from spec,
// treating freed as available. Nothing in the world changes.
func (w *World) planFarp(side core.Side, spec *core.Deployable, freed string) (farpPlan, error) {
	if spec.Logistics == nil {
		return farpPlan{}, fmt.Errorf("%s is not a logistics deployable", spec.Name())
	}
	pad, err := w.freePad(spec, freed)
	if err != nil {
		return farpPlan{}, err
	}
	plan := farpPlan{pad: pad}
	parts := []string{spec.Template, pad, spec.Logistics.AmmoTemplate, spec.Logistics.FuelTemplate, spec.Logistics.BarracksTemplate}
	var points []core.Vector2
	for _, name := range parts {
		if name == "" {
			continue
		}
		tmpl, err := w.templates.Get(side, name)
		if err != nil {
			return farpPlan{}, err
		}
		for _, u := range tmpl.Units {
			if _, ok := w.cfg.UnitTagsOf(u.Type); !ok {
				return farpPlan{}, fmt.Errorf("unit type %s of template %s is not classified", u.Type, name)
			}
			points = append(points, u.Pos)
		}
		plan.names = append(plan.names, name)
	}
	plan.center = geo.Centroid(points)
	return plan, nil
}

// AddFarp builds a FARP objective of side at pos from a logistics
// deployable. Its parts spawn after a short delay.
func (w *World) AddFarp(ctx context.Context, side core.Side, pos core.Vector2, spec *core.Deployable, now time.Time) (core.ObjectiveID, error) {
	plan, err := w.planFarp(side, spec, "")
	if err != nil {
		return 0, err
	}
	return w.addFarp(ctx, side, pos, spec, plan, now)
}

func (w *World) addFarp(ctx context.Context, side core.Side, pos core.Vector2, spec *core.Deployable, plan farpPlan, now time.Time) (core.ObjectiveID, error) {
	oid := w.p.nextObjectiveID()
	obj := &core.Objective{
		ID:           oid,
		Name:         w.farpName(pos),
		Pos:          pos,
		Zone:         core.CircleZone(pos, farpRadius),
		Owner:        side,
		Kind:         core.KindFarp,
		Farp:         &core.FarpInfo{Deployable: *spec, PadTemplate: plan.pad},
		Health:       100,
		Logi:         100,
		Groups:       make(map[core.Side][]core.GroupID),
		Slots:        make(map[core.SlotID]core.SlotInfo),
		LastChange:   now,
		LastActivate: now,
		Spawned:      true,
		NeedsMark:    true,
	}
	w.p.Objectives[oid] = obj
	w.p.ObjectivesByName[obj.Name] = oid
	w.p.Farps.Add(oid)
	w.e.usedPads[plan.pad] = struct{}{}
	w.initFarpWarehouse(obj)

	at := now.Add(farpSpawnDelay)
	loc := core.SpawnLoc{AtPosWithCenter: &core.AtPosWithCenter{Pos: pos, Center: plan.center}}
	for _, name := range plan.names {
		if _, err := w.AddAndQueueGroup(ctx, side, loc, name, core.OriginObjective{Objective: oid}, 0, &at); err != nil {
			if derr := w.DeleteObjective(oid); derr != nil {
				w.log.Error("Failed to roll back farp", "objective", obj.Name, "error", derr)
			}
			return 0, fmt.Errorf("building %s: %w", obj.Name, err)
		}
	}
	if err := w.UpdateObjectiveStatus(oid, now); err != nil {
		return 0, err
	}
	w.setupSupplyLines()
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatFarp, Side: side, Objective: &oid, Detail: obj.Name})
	return oid, nil
}
