package world

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"

	"github.com/OCAP2/campaign/pkg/core"
)

// idSet is an unordered set of ids encoded as a sorted JSON array.
type idSet[K cmp.Ordered] map[K]struct{}

func (s idSet[K]) Add(k K) { s[k] = struct{}{} }
func (s idSet[K]) Remove(k K) { delete(s, k) }
func (s idSet[K]) Sorted() []K { return sortedKeys(s) }
func (s idSet[K]) Len() int { return len(s) }

func (s idSet[K]) Has(k K) bool {
	_, ok := s[k]
	return ok
}

func (s idSet[K]) MarshalJSON() ([]byte, error) {
	keys := s.Sorted()
	if keys == nil {
		keys = []K{}
	}
	return json.Marshal(keys)
}

func (s *idSet[K]) UnmarshalJSON(b []byte) error {
	var keys []K
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	*s = make(idSet[K], len(keys))
	for _, k := range keys {
		(*s)[k] = struct{}{}
	}
	return nil
}

func sortedKeys[M ~map[K]V, K cmp.Ordered, V any](m M) []K {
	return slices.Sorted(maps.Keys(m))
}

// Counters hands out ids. Ids are never reused.
type Counters struct {
	Objective core.ObjectiveID `json:"objective"`
	Group     core.GroupID     `json:"group"`
	Unit      core.UnitID      `json:"unit"`
}

// Persisted is the part of the world that survives a restart. Everything
// else is rebuilt from it and from the host.
type Persisted struct {
	IDs        Counters                             `json:"ids"`
	Objectives map[core.ObjectiveID]*core.Objective `json:"objectives"`
	Groups     map[core.GroupID]*core.Group         `json:"groups"`
	Units      map[core.UnitID]*core.Unit           `json:"units"`
	Players    map[core.Ucid]*core.Player           `json:"players"`

	GroupsByName      map[string]core.GroupID           `json:"groupsByName"`
	UnitsByName       map[string]core.UnitID            `json:"unitsByName"`
	GroupsBySide      map[core.Side]idSet[core.GroupID] `json:"groupsBySide"`
	ObjectivesByName  map[string]core.ObjectiveID       `json:"objectivesByName"`
	ObjectivesBySlot  map[core.SlotID]core.ObjectiveID  `json:"objectivesBySlot"`
	ObjectivesByGroup map[core.GroupID]core.ObjectiveID `json:"objectivesByGroup"`

	Deployed idSet[core.GroupID]     `json:"deployed"`
	Troops   idSet[core.GroupID]     `json:"troops"`
	Crates   idSet[core.GroupID]     `json:"crates"`
	Actions  idSet[core.GroupID]     `json:"actions"`
	Farps    idSet[core.ObjectiveID] `json:"farps"`

	LogisticsTicksSinceDelivery uint32 `json:"logisticsTicksSinceDelivery"`
}

func newPersisted() *Persisted {
	p := &Persisted{}
	p.fill()
	return p
}

// fill allocates every nil map, so a decoded snapshot from an older
// version is usable.
func (p *Persisted) fill() {
	if p.Objectives == nil {
		p.Objectives = make(map[core.ObjectiveID]*core.Objective)
	}
	if p.Groups == nil {
		p.Groups = make(map[core.GroupID]*core.Group)
	}
	if p.Units == nil {
		p.Units = make(map[core.UnitID]*core.Unit)
	}
	if p.Players == nil {
		p.Players = make(map[core.Ucid]*core.Player)
	}
	if p.GroupsByName == nil {
		p.GroupsByName = make(map[string]core.GroupID)
	}
	if p.UnitsByName == nil {
		p.UnitsByName = make(map[string]core.UnitID)
	}
	if p.GroupsBySide == nil {
		p.GroupsBySide = make(map[core.Side]idSet[core.GroupID])
	}
	for _, s := range core.Sides {
		if p.GroupsBySide[s] == nil {
			p.GroupsBySide[s] = idSet[core.GroupID]{}
		}
	}
	if p.ObjectivesByName == nil {
		p.ObjectivesByName = make(map[string]core.ObjectiveID)
	}
	if p.ObjectivesBySlot == nil {
		p.ObjectivesBySlot = make(map[core.SlotID]core.ObjectiveID)
	}
	if p.ObjectivesByGroup == nil {
		p.ObjectivesByGroup = make(map[core.GroupID]core.ObjectiveID)
	}
	if p.Deployed == nil {
		p.Deployed = idSet[core.GroupID]{}
	}
	if p.Troops == nil {
		p.Troops = idSet[core.GroupID]{}
	}
	if p.Crates == nil {
		p.Crates = idSet[core.GroupID]{}
	}
	if p.Actions == nil {
		p.Actions = idSet[core.GroupID]{}
	}
	if p.Farps == nil {
		p.Farps = idSet[core.ObjectiveID]{}
	}
	for _, obj := range p.Objectives {
		if obj.Groups == nil {
			obj.Groups = make(map[core.Side][]core.GroupID)
		}
		if obj.Slots == nil {
			obj.Slots = make(map[core.SlotID]core.SlotInfo)
		}
	}
	for _, pl := range p.Players {
		if pl.Lives == nil {
			pl.Lives = make(map[core.LifeType]core.LifeState)
		}
	}
}

func (p *Persisted) nextObjectiveID() core.ObjectiveID {
	p.IDs.Objective++
	return p.IDs.Objective
}

func (p *Persisted) nextGroupID() core.GroupID {
	p.IDs.Group++
	return p.IDs.Group
}

func (p *Persisted) nextUnitID() core.UnitID {
	p.IDs.Unit++
	return p.IDs.Unit
}
