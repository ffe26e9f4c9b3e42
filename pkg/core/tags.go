package core

import (
	"encoding/json"
	"fmt"
	"math/bits"
)

// UnitTag classifies a unit type. Tags are combined into UnitTags.
type UnitTag uint64

const (
	TagSAM UnitTag = 1 << iota
	TagAAA
	TagArmor
	TagAPC
	TagLogistics
	TagInfantry
	TagEWR
	TagAircraft
	TagHelicopter
	TagLR
	TagSR
	TagMR
	TagIRGuided
	TagRadarGuided
	TagOpticallyGuided
	TagEngagesWeapons
	TagUnguided
	TagTrackRadar
	TagSearchRadar
	TagAuxRadarUnit
	TagControlUnit
	TagLauncher
	TagATGM
	TagArtillery
	TagLightCannon
	TagHeavyCannon
	TagRPG
	TagSmallArms
	TagUnarmed
	TagInvincible
	TagDriveable
)

var tagNames = []string{
	"SAM", "AAA", "Armor", "APC", "Logistics", "Infantry", "EWR", "Aircraft", "Helicopter",
	"LR", "SR", "MR", "IRGuided", "RadarGuided", "OpticallyGuided", "EngagesWeapons",
	"Unguided", "TrackRadar", "SearchRadar", "AuxRadarUnit", "ControlUnit", "Launcher", "ATGM",
	"Artillery", "LightCannon", "HeavyCannon", "RPG", "SmallArms", "Unarmed", "Invincible",
	"Driveable",
}

func (t UnitTag) String() string {
	i := bits.TrailingZeros64(uint64(t))
	if bits.OnesCount64(uint64(t)) != 1 || i >= len(tagNames) {
		return fmt.Sprintf("UnitTag(%d)", uint64(t))
	}
	return tagNames[i]
}

// ParseUnitTag looks a tag up by name.
func ParseUnitTag(name string) (UnitTag, error) {
	for i, n := range tagNames {
		if n == name {
			return UnitTag(1) << i, nil
		}
	}
	return 0, fmt.Errorf("unknown unit tag: %q", name)
}

// UnitTags is a set of UnitTag.
type UnitTags uint64

// Tags builds a tag set.
func Tags(tags ...UnitTag) UnitTags {
	var s UnitTags
	for _, t := range tags {
		s |= UnitTags(t)
	}
	return s
}

// Has reports whether every tag in t is set.
func (s UnitTags) Has(t UnitTag) bool { return uint64(s)&uint64(t) == uint64(t) }

// Any reports whether at least one tag of t is set.
func (s UnitTags) Any(t UnitTags) bool { return s&t != 0 }

// With returns s with t added.
func (s UnitTags) With(t UnitTags) UnitTags { return s | t }

// List returns the individual tags in ascending order.
func (s UnitTags) List() []UnitTag {
	var out []UnitTag
	for v := uint64(s); v != 0; v &= v - 1 {
		out = append(out, UnitTag(1)<<bits.TrailingZeros64(v))
	}
	return out
}

// MarshalJSON encodes the set as a list of tag names.
func (s UnitTags) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, bits.OnesCount64(uint64(s)))
	for _, t := range s.List() {
		names = append(names, t.String())
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes a list of tag names.
func (s *UnitTags) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out UnitTags
	for _, n := range names {
		t, err := ParseUnitTag(n)
		if err != nil {
			return err
		}
		out |= UnitTags(t)
	}
	*s = out
	return nil
}
