// pkg/core/specs.go
package core

import (
	"fmt"
	"strings"
)

// LimitEnforce decides what happens when a deployable or troop type is at
// its instance limit.
type LimitEnforce string

const (
	// DeleteOldest removes the oldest instance to make room for the new one.
	DeleteOldest LimitEnforce = "DeleteOldest"
	// DenyCrate refuses the new instance.
	DenyCrate LimitEnforce = "DenyCrate"
)

// Crate describes one type of cargo crate.
type Crate struct {
	Name     string `json:"name" mapstructure:"name"`
	Weight   int    `json:"weight" mapstructure:"weight"`
	Required int    `json:"required" mapstructure:"required"`
	// PosUnit, when set, places units of this type at the centroid of the
	// crates of this kind instead of the overall centroid.
	PosUnit          string `json:"posUnit,omitempty" mapstructure:"posUnit"`
	MaxDropHeightAGL int    `json:"maxDropHeightAgl" mapstructure:"maxDropHeightAgl"`
	// MaxDropSpeed is in km/h.
	MaxDropSpeed int `json:"maxDropSpeed" mapstructure:"maxDropSpeed"`
}

// DeployableLogistics lists the parts of a deployable that becomes an
// objective (a FARP) once unpacked.
type DeployableLogistics struct {
	PadTemplates     []string `json:"padTemplates" mapstructure:"padTemplates"`
	AmmoTemplate     string   `json:"ammoTemplate" mapstructure:"ammoTemplate"`
	FuelTemplate     string   `json:"fuelTemplate" mapstructure:"fuelTemplate"`
	BarracksTemplate string   `json:"barracksTemplate" mapstructure:"barracksTemplate"`
}

// Deployable is a structure players build from crates.
type Deployable struct {
	// Path is the menu path; the last element is the deployable name.
	Path         []string             `json:"path" mapstructure:"path"`
	Template     string               `json:"template" mapstructure:"template"`
	Limit        int                  `json:"limit" mapstructure:"limit"`
	LimitEnforce LimitEnforce         `json:"limitEnforce" mapstructure:"limitEnforce"`
	Crates       []Crate              `json:"crates" mapstructure:"crates"`
	RepairCrate  *Crate               `json:"repairCrate,omitempty" mapstructure:"repairCrate"`
	Logistics    *DeployableLogistics `json:"logistics,omitempty" mapstructure:"logistics"`
	Cost         int                  `json:"cost" mapstructure:"cost"`
	RepairCost   int                  `json:"repairCost" mapstructure:"repairCost"`
}

// Name returns the deployable name, the last element of its path.
func (d *Deployable) Name() string {
	if len(d.Path) == 0 {
		return ""
	}
	return d.Path[len(d.Path)-1]
}

// IsObjective reports whether unpacking creates an objective.
func (d *Deployable) IsObjective() bool { return d.Logistics != nil }

// Troop is a squad that can be carried and unloaded.
type Troop struct {
	Name         string       `json:"name" mapstructure:"name"`
	Template     string       `json:"template" mapstructure:"template"`
	CanCapture   bool         `json:"canCapture" mapstructure:"canCapture"`
	Limit        int          `json:"limit" mapstructure:"limit"`
	LimitEnforce LimitEnforce `json:"limitEnforce" mapstructure:"limitEnforce"`
	Weight       int          `json:"weight" mapstructure:"weight"`
	Cost         int          `json:"cost" mapstructure:"cost"`
}

// CargoCapacity is the carrying capacity of a vehicle type.
type CargoCapacity struct {
	TroopSlots int `json:"troopSlots" mapstructure:"troopSlots"`
	CrateSlots int `json:"crateSlots" mapstructure:"crateSlots"`
	TotalSlots int `json:"totalSlots" mapstructure:"totalSlots"`
}

// LifeType groups vehicle types that share a life pool.
type LifeType string

const (
	LifeStandard  LifeType = "Standard"
	LifeIntercept LifeType = "Intercept"
	LifeLogistics LifeType = "Logistics"
	LifeAttack    LifeType = "Attack"
	LifeRecon     LifeType = "Recon"
)

// ParseLifeType accepts a life type name in any case.
func ParseLifeType(s string) (LifeType, error) {
	for _, lt := range []LifeType{LifeStandard, LifeIntercept, LifeLogistics, LifeAttack, LifeRecon} {
		if strings.EqualFold(string(lt), s) {
			return lt, nil
		}
	}
	return "", fmt.Errorf("unknown life type: %q", s)
}
