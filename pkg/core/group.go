// pkg/core/group.go
package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GroupClass is the structural role of a group, derived from its template name.
type GroupClass uint8

const (
	ClassOther GroupClass = iota
	ClassLogi
	ClassServices
	ClassSr
	ClassAaa
	ClassMr
	ClassLr
	ClassArmor
)

// RepairOrder is the order in which damaged garrison classes are repaired.
var RepairOrder = [...]GroupClass{
	ClassLogi, ClassServices, ClassSr, ClassAaa, ClassMr, ClassLr, ClassArmor, ClassOther,
}

func (c GroupClass) String() string {
	switch c {
	case ClassLogi:
		return "logi"
	case ClassServices:
		return "services"
	case ClassSr:
		return "sr"
	case ClassAaa:
		return "aaa"
	case ClassMr:
		return "mr"
	case ClassLr:
		return "lr"
	case ClassArmor:
		return "armor"
	default:
		return "other"
	}
}

func (c GroupClass) IsLogi() bool     { return c == ClassLogi }
func (c GroupClass) IsServices() bool { return c == ClassServices }

// ClassFromTemplate derives the class from template naming conventions.
// A template may carry a one letter side prefix (B, R, N).
func ClassFromTemplate(name string) GroupClass {
	switch name {
	case "BLOGI", "RLOGI", "NLOGI", "LOGI", "BDEPFARP", "RDEPFARP":
		return ClassLogi
	}
	if strings.HasSuffix(name, "SERVICES") {
		return ClassServices
	}
	up := strings.ToUpper(name)
	for _, p := range []struct {
		prefix string
		class  GroupClass
	}{
		{"AAA", ClassAaa},
		{"ARMOR", ClassArmor},
		{"LR", ClassLr},
		{"MR", ClassMr},
		{"SR", ClassSr},
	} {
		if strings.HasPrefix(up, p.prefix) {
			return p.class
		}
		if len(up) > 1 && strings.ContainsRune("BRN", rune(up[0])) && strings.HasPrefix(up[1:], p.prefix) {
			return p.class
		}
	}
	return ClassOther
}

// DeployKind records why a group exists. It is a closed set of variants:
// OriginObjective, OriginDeployed, OriginTroop, OriginCrate and OriginAction.
type DeployKind interface {
	deployKind() string
}

// OriginObjective is a garrison group of an objective.
type OriginObjective struct {
	Objective ObjectiveID `json:"objective"`
}

// OriginDeployed is a structure unpacked by a player.
type OriginDeployed struct {
	Player  Ucid        `json:"player"`
	MovedBy *Ucid       `json:"movedBy,omitempty"`
	Spec    Deployable  `json:"spec"`
	Origin  ObjectiveID `json:"origin"`
}

// OriginTroop is a squad unloaded by a player.
type OriginTroop struct {
	Player  Ucid         `json:"player"`
	MovedBy *Ucid        `json:"movedBy,omitempty"`
	Spec    Troop        `json:"spec"`
	Origin  *ObjectiveID `json:"origin,omitempty"`
}

// OriginCrate is a crate on the ground.
type OriginCrate struct {
	Origin ObjectiveID `json:"origin"`
	Player Ucid        `json:"player"`
	Spec   Crate       `json:"spec"`
}

// OriginAction is a group spawned by an AI action a player paid for.
type OriginAction struct {
	Player  *Ucid      `json:"player,omitempty"`
	Name    string     `json:"name"`
	Expires *time.Time `json:"expires,omitempty"`
}

func (OriginObjective) deployKind() string { return "objective" }
func (OriginDeployed) deployKind() string  { return "deployed" }
func (OriginTroop) deployKind() string     { return "troop" }
func (OriginCrate) deployKind() string     { return "crate" }
func (OriginAction) deployKind() string    { return "action" }

// DeployKindName returns the discriminator of a DeployKind.
func DeployKindName(k DeployKind) string {
	if k == nil {
		return ""
	}
	return k.deployKind()
}

type deployKindEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalDeployKind(k DeployKind) ([]byte, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	return json.Marshal(deployKindEnvelope{Kind: k.deployKind(), Data: data})
}

func unmarshalDeployKind(b []byte) (DeployKind, error) {
	var env deployKindEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	var k DeployKind
	switch env.Kind {
	case "objective":
		var v OriginObjective
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		k = v
	case "deployed":
		var v OriginDeployed
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		k = v
	case "troop":
		var v OriginTroop
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		k = v
	case "crate":
		var v OriginCrate
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		k = v
	case "action":
		var v OriginAction
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, err
		}
		k = v
	default:
		return nil, fmt.Errorf("unknown deploy kind: %q", env.Kind)
	}
	return k, nil
}

// Group is a named collection of units sharing an origin.
type Group struct {
	ID           GroupID    `json:"id"`
	Name         string     `json:"name"`
	TemplateName string     `json:"templateName"`
	Side         Side       `json:"side"`
	Static       bool       `json:"static"`
	Class        GroupClass `json:"class"`
	Origin       DeployKind `json:"-"`
	Units        []UnitID   `json:"units"`
	Tags         UnitTags   `json:"tags"`
}

type groupJSON Group

// MarshalJSON encodes the group with its origin discriminated by kind.
func (g *Group) MarshalJSON() ([]byte, error) {
	origin, err := marshalDeployKind(g.Origin)
	if err != nil {
		return nil, fmt.Errorf("encoding origin of group %d: %w", g.ID, err)
	}
	return json.Marshal(struct {
		*groupJSON
		Origin json.RawMessage `json:"origin"`
	}{(*groupJSON)(g), origin})
}

// UnmarshalJSON decodes a group written by MarshalJSON.
func (g *Group) UnmarshalJSON(b []byte) error {
	aux := struct {
		*groupJSON
		Origin json.RawMessage `json:"origin"`
	}{groupJSON: (*groupJSON)(g)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	origin, err := unmarshalDeployKind(aux.Origin)
	if err != nil {
		return fmt.Errorf("decoding origin of group %d: %w", g.ID, err)
	}
	g.Origin = origin
	return nil
}

// Unit is one simulated entity.
type Unit struct {
	ID           UnitID   `json:"id"`
	Name         string   `json:"name"`
	Group        GroupID  `json:"group"`
	Side         Side     `json:"side"`
	Type         string   `json:"type"`
	Tags         UnitTags `json:"tags"`
	TemplateName string   `json:"templateName"`
	SpawnPos     Vector2  `json:"spawnPos"`
	SpawnHeading float64  `json:"spawnHeading"`
	Pos          Vector2  `json:"pos"`
	Alt          float64  `json:"alt"`
	Heading      float64  `json:"heading"`
	// Dead units stay in the store until repaired or their group is deleted.
	Dead  bool       `json:"dead"`
	Moved *time.Time `json:"moved,omitempty"`
}

// SpawnLoc says where a new group is placed. Exactly one of the variants is set.
type SpawnLoc struct {
	// AtPos places the group next to Pos, offset along OffsetDirection so
	// the nearest unit is about 20m away, rotated to Heading.
	AtPos *AtPos
	// AtPosWithCenter translates the template from Center to Pos unrotated.
	AtPosWithCenter *AtPosWithCenter
	// AtPosWithComponents places unit types listed in Components around
	// their own point and the rest around Pos.
	AtPosWithComponents *AtPosWithComponents
	// InAir places an air group at Pos and Altitude.
	InAir *InAir
}

type AtPos struct {
	Pos             Vector2
	OffsetDirection Vector2
	Heading         float64
}

type AtPosWithCenter struct {
	Pos    Vector2
	Center Vector2
}

type AtPosWithComponents struct {
	Pos        Vector2
	Components map[string]Vector2
	Heading    float64
}

type InAir struct {
	Pos      Vector2
	Heading  float64
	Altitude float64
}
