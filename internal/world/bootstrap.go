package world

import (
	"context"
	"fmt"
	"time"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

// Templates are the group layouts of the mission, by side and name.
type Templates map[core.Side]map[string]core.Template

// NewTemplates indexes ts.
func NewTemplates(ts ...core.Template) Templates {
	t := Templates{}
	for _, tmpl := range ts {
		t.Add(tmpl)
	}
	return t
}

// Add registers a template, replacing one of the same side and name.
func (t Templates) Add(tmpl core.Template) {
	if t[tmpl.Side] == nil {
		t[tmpl.Side] = make(map[string]core.Template)
	}
	t[tmpl.Side][tmpl.Name] = tmpl
}

// Get returns the template of side called name.
func (t Templates) Get(side core.Side, name string) (core.Template, error) {
	tmpl, ok := t[side][name]
	if !ok {
		return core.Template{}, notFound("template", side.String()+"/"+name)
	}
	return tmpl, nil
}

// BootstrapObjective is an objective as laid out in the mission.
type BootstrapObjective struct {
	Name  string             `json:"name"`
	Kind  core.ObjectiveKind `json:"kind"`
	Zone  core.Zone          `json:"zone"`
	Owner core.Side          `json:"owner"`
	// Garrisons lists the template names of each side's garrison.
	Garrisons map[core.Side][]string `json:"garrisons"`
}

// BootstrapSlot is a player slot and where it sits on the map.
type BootstrapSlot struct {
	core.SlotInfo
	Pos core.Vector2 `json:"pos"`
}

// Bootstrap is the one time description of a new campaign.
type Bootstrap struct {
	Templates  []core.Template      `json:"templates"`
	Objectives []BootstrapObjective `json:"objectives"`
	Slots      []BootstrapSlot      `json:"slots"`
}

// TemplateIndex returns the templates of b indexed for Dependencies.
func (b *Bootstrap) TemplateIndex() Templates {
	return NewTemplates(b.Templates...)
}

// Import creates the objectives of a new campaign with their garrisons and
// maps every slot to the objective containing it. Slots outside every
// objective are left unmapped and act as multicrew slots.
func (w *World) Import(ctx context.Context, b *Bootstrap, now time.Time) error {
	if len(w.p.Objectives) > 0 {
		return fmt.Errorf("campaign already has %d objectives", len(w.p.Objectives))
	}
	for _, tmpl := range b.Templates {
		w.templates.Add(tmpl)
	}
	for _, bo := range b.Objectives {
		if _, dup := w.p.ObjectivesByName[bo.Name]; dup {
			return fmt.Errorf("duplicate objective %q", bo.Name)
		}
		zone := bo.Zone
		if zone.Kind == core.ZoneQuad {
			zone = geo.QuadZone(zone.Points)
		}
		obj := &core.Objective{
			ID:             w.p.nextObjectiveID(),
			Name:           bo.Name,
			Pos:            zone.Center,
			Zone:           zone,
			Owner:          bo.Owner,
			Kind:           bo.Kind,
			Health:         100,
			Logi:           100,
			Groups:         make(map[core.Side][]core.GroupID),
			Slots:          make(map[core.SlotID]core.SlotInfo),
			LastChange:     now,
			LastThreatened: now,
			NeedsMark:      true,
		}
		w.p.Objectives[obj.ID] = obj
		w.p.ObjectivesByName[obj.Name] = obj.ID

		for _, side := range core.Sides {
			for _, name := range bo.Garrisons[side] {
				tmpl, err := w.templates.Get(side, name)
				if err != nil {
					return fmt.Errorf("garrison of %s: %w", obj.Name, err)
				}
				c := templateCenter(tmpl)
				loc := core.SpawnLoc{AtPosWithCenter: &core.AtPosWithCenter{Pos: c, Center: c}}
				if _, err := w.AddGroup(ctx, side, loc, name, core.OriginObjective{Objective: obj.ID}, 0); err != nil {
					return fmt.Errorf("garrison of %s: %w", obj.Name, err)
				}
			}
		}
		if err := w.UpdateObjectiveStatus(obj.ID, now); err != nil {
			return err
		}
	}
	for _, s := range b.Slots {
		obj := w.objectiveAt(s.Pos)
		if obj == nil {
			w.log.Debug("Slot outside every objective", "slot", s.ID)
			continue
		}
		info := s.SlotInfo
		info.Objective = obj.ID
		if info.Kind == "" {
			info.Kind = core.SlotKindOf(info.ID)
		}
		obj.Slots[info.ID] = info
		w.p.ObjectivesBySlot[info.ID] = obj.ID
	}
	w.initWarehouses()
	w.MarkDirty()
	w.log.Info("Imported campaign", "objectives", len(w.p.Objectives), "groups", len(w.p.Groups), "slots", len(w.p.ObjectivesBySlot))
	return nil
}

// objectiveAt returns the objective whose zone contains pos, preferring the
// nearest center when zones overlap.
func (w *World) objectiveAt(pos core.Vector2) *core.Objective {
	var best *core.Objective
	for _, obj := range w.Objectives() {
		if !geo.Contains(obj.Zone, pos) {
			continue
		}
		if best == nil || obj.Pos.DistanceSq(pos) < best.Pos.DistanceSq(pos) {
			best = obj
		}
	}
	return best
}

func templateCenter(tmpl core.Template) core.Vector2 {
	pts := make([]core.Vector2, len(tmpl.Units))
	for i, u := range tmpl.Units {
		pts[i] = u.Pos
	}
	return geo.Centroid(pts)
}
