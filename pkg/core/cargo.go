// pkg/core/cargo.go
package core

// CarriedTroop is a squad on board.
type CarriedTroop struct {
	Player Ucid         `json:"player"`
	Origin *ObjectiveID `json:"origin,omitempty"`
	Spec   Troop        `json:"spec"`
}

// CarriedCrate is a crate on board.
type CarriedCrate struct {
	Origin ObjectiveID `json:"origin"`
	Player Ucid        `json:"player"`
	Spec   Crate       `json:"spec"`
}

// Cargo is what an occupied slot carries. Items are loaded and unloaded
// in order, the last loaded comes out first.
type Cargo struct {
	Troops []CarriedTroop `json:"troops"`
	Crates []CarriedCrate `json:"crates"`
}

// Weight sums the weight of everything on board.
func (c *Cargo) Weight() int {
	w := 0
	for _, t := range c.Troops {
		w += t.Spec.Weight
	}
	for _, cr := range c.Crates {
		w += cr.Spec.Weight
	}
	return w
}

func (c *Cargo) NumTroops() int { return len(c.Troops) }
func (c *Cargo) NumCrates() int { return len(c.Crates) }
func (c *Cargo) NumTotal() int  { return len(c.Troops) + len(c.Crates) }

// Empty reports whether nothing is on board.
func (c *Cargo) Empty() bool { return c.NumTotal() == 0 }
