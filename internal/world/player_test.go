package world

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/OCAP2/campaign/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPlayer(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.w.RegisterPlayer("blue1", "Maverick", core.Blue))
	p, err := f.w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, core.Blue, p.Side)
	assert.Equal(t, 10, p.Points)
	require.NotNil(t, p.SideSwitches)
	assert.Equal(t, 1, *p.SideSwitches)

	err = f.w.RegisterPlayer("blue1", "Maverick", core.Blue)
	var re *RegisterError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, RegisterAlreadyOn, re.Kind)

	err = f.w.RegisterPlayer("blue1", "Maverick", core.Red)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, RegisterAlreadyRegistered, re.Kind)
	assert.Equal(t, core.Blue, re.Side)

	assert.ErrorIs(t, f.w.RegisterPlayer("n1", "Nobody", core.Neutral), ErrSwitchToNeutral)
}

func TestSideSwitchPlayer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.RegisterPlayer("blue1", "Maverick", core.Blue))

	tests := []struct {
		name string
		ucid core.Ucid
		side core.Side
		want error
	}{
		{"unregistered", "nobody", core.Red, ErrSwitchNotRegistered},
		{"to neutral", "blue1", core.Neutral, ErrSwitchToNeutral},
		{"same side", "blue1", core.Blue, ErrSwitchSameSide},
		{"switch", "blue1", core.Red, nil},
		{"budget spent", "blue1", core.Blue, ErrSwitchNoSwitchesLeft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.w.SideSwitchPlayer(tt.ucid, tt.side)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
	p, err := f.w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, core.Red, p.Side)
	assert.Equal(t, 0, *p.SideSwitches)
}

func TestSideSwitchPlayer_MustBeSpectating(t *testing.T) {
	f := newFixture(t)
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(50, 50))

	assert.ErrorIs(t, f.w.SideSwitchPlayer("blue1", core.Red), ErrSwitchNotInSpectators)
}

func TestForceSideSwitchPlayer(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(50, 50))

	require.NoError(t, f.w.ForceSideSwitchPlayer("blue1", core.Red, f.now))
	assert.Equal(t, core.Red, p.Side)
	assert.Nil(t, p.CurrentSlot)
	assert.Equal(t, 1, *p.SideSwitches, "forced switches are free")
	assert.Equal(t, []core.Ucid{"blue1"}, f.w.PlayersToForceToSpectators(f.now))
}

func TestPlayerConnected_TracksNames(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.w.PlayerConnected("blue1", "Maverick", f.now))

	require.NoError(t, f.w.RegisterPlayer("blue1", "Maverick", core.Blue))
	assert.True(t, f.w.PlayerConnected("blue1", "Goose", f.now))

	p, err := f.w.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, "Goose", p.Name)
	assert.Equal(t, []string{"Maverick"}, p.AltNames)
}

func TestPlayerDisconnected_FreesSlots(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(50, 50))

	f.w.PlayerDisconnected("blue1", f.now)
	assert.Nil(t, p.CurrentSlot)
	assert.Nil(t, p.Instance)
	assert.NotContains(t, f.w.e.playersBySlot, core.SlotID("101"))
}

// TestTryOccupySlot_AllCombinations walks every combination of the five
// conditions a normal slot checks, in the order they are checked.
func TestTryOccupySlot_AllCombinations(t *testing.T) {
	for mask := range 32 {
		registered := mask&1 != 0
		sameSide := mask&2 != 0
		owned := mask&4 != 0
		hasLogi := mask&8 != 0
		hasLives := mask&16 != 0

		name := fmt.Sprintf("registered=%t/side=%t/owned=%t/logi=%t/lives=%t", registered, sameSide, owned, hasLogi, hasLives)
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			alpha := f.objective(t, "Alpha")
			side := core.Blue
			if !sameSide {
				side = core.Red
			}
			if registered {
				require.NoError(t, f.w.RegisterPlayer("p1", "Pilot", side))
				if !hasLives {
					p, err := f.w.Player("p1")
					require.NoError(t, err)
					p.Lives[core.LifeStandard] = core.LifeState{ResetAt: f.now, Lives: 0}
				}
			}
			if !owned {
				alpha.Owner = core.Red
			}
			if !hasLogi {
				alpha.Logi = 0
			}

			auth := f.w.TryOccupySlot(f.now, "101", "p1")

			want := SlotYes
			switch {
			case !registered:
				want = SlotNotRegistered
			case !sameSide, !owned:
				want = SlotObjectiveNotOwned
			case !hasLogi:
				want = SlotObjectiveHasNoLogistics
			case !hasLives:
				want = SlotNoLives
			}
			assert.Equal(t, want, auth.Kind)

			_, occupied := f.w.e.playersBySlot["101"]
			assert.Equal(t, want == SlotYes, occupied)
			if want == SlotNotRegistered {
				assert.Equal(t, core.Blue, auth.Side, "reports the side of the slot")
			}
			if want == SlotObjectiveNotOwned {
				assert.Equal(t, side, auth.Side, "reports the side of the player")
			}
		})
	}
}

func TestTryOccupySlot_SpecialSlots(t *testing.T) {
	f := newFixture(t)

	for _, slot := range []core.SlotID{"instructor_1", "artillery_commander_blue_1", "forward_observer_red_1", "observer_1"} {
		assert.Equal(t, SlotYes, f.w.TryOccupySlot(f.now, slot, "nobody").Kind, slot)
	}
}

func TestTryOccupySlot_SpectatorsDeslot(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(50, 50))

	assert.True(t, f.w.TryOccupySlot(f.now, "", "blue1").Allowed())
	assert.Nil(t, p.CurrentSlot)
}

func TestTryOccupySlot_UnmappedIsMulticrew(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.RegisterPlayer("red1", "Ivan", core.Red))

	auth := f.w.TryOccupySlot(f.now, "301", "red1")
	assert.True(t, auth.Allowed())
}

func TestTryOccupySlot_LivesResetAfterWindow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.RegisterPlayer("blue1", "Maverick", core.Blue))
	p, err := f.w.Player("blue1")
	require.NoError(t, err)
	p.Lives[core.LifeStandard] = core.LifeState{ResetAt: f.now, Lives: 0}

	assert.Equal(t, SlotNoLives, f.w.TryOccupySlot(f.now, "101", "blue1").Kind)
	assert.Equal(t, SlotYes, f.w.TryOccupySlot(f.advance(25*time.Hour), "101", "blue1").Kind)
	assert.Empty(t, p.Lives)
}

func TestLives_RoundTrip(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(50, 50))

	lt, taken, err := f.w.Takeoff(f.now, "101", v(50, 50))
	require.NoError(t, err)
	assert.Equal(t, core.LifeStandard, lt)
	assert.True(t, taken)
	assert.Equal(t, uint8(2), p.Lives[core.LifeStandard].Lives)
	assert.Equal(t, f.now, p.Lives[core.LifeStandard].ResetAt)

	data, err := f.w.Snapshot()
	require.NoError(t, err)
	w2, err := New(Dependencies{Config: testConfig(), Host: newFakeHost()})
	require.NoError(t, err)
	require.NoError(t, w2.Load(data))
	p2, err := w2.Player("blue1")
	require.NoError(t, err)
	assert.Equal(t, p.Lives, p2.Lives)

	lt, returned, err := f.w.Land(f.now, "101", v(60, 60))
	require.NoError(t, err)
	assert.Equal(t, core.LifeStandard, lt)
	assert.True(t, returned)
	assert.Empty(t, p.Lives, "a full pool is forgotten")
}

func TestTakeoff_AwayFromFriendlyObjective(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(50, 50))

	_, taken, err := f.w.Takeoff(f.now, "101", v(9000, 9000))
	require.NoError(t, err)
	assert.False(t, taken)
	assert.Equal(t, uint8(3), p.Lives[core.LifeStandard].Lives)

	_, returned, err := f.w.Land(f.now, "101", v(9000, 9000))
	require.NoError(t, err)
	assert.False(t, returned)
}

func TestTakeoff_NotSlotted(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.w.Takeoff(f.now, "101", v(0, 0))
	assert.ErrorIs(t, err, ErrNotInSlot)
}

func TestUnitDead_PlayerAircraft(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-7", on(50, 50))

	require.NoError(t, f.w.UnitDead("obj-7", f.now))
	assert.Nil(t, p.CurrentSlot)
	assert.Equal(t, []core.Ucid{"blue1"}, f.w.PlayersToForceToSpectators(f.now))
	assert.Empty(t, f.w.PlayersToForceToSpectators(f.now), "drained")
}

func TestUpdatePlayerPositions_VanishedAircraft(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-7", on(50, 50))

	delete(f.host.instances, "obj-7")
	f.w.UpdatePlayerPositions(context.Background(), f.now)
	assert.Nil(t, p.CurrentSlot)
}

func TestAdjustPoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.RegisterPlayer("blue1", "Maverick", core.Blue))

	total, err := f.w.AdjustPoints("blue1", -4, "test")
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	_, err = f.w.AdjustPoints("nobody", 1, "test")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlayerLeftSlot(t *testing.T) {
	f := newFixture(t)
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", core.InstanceState{})
	require.NotNil(t, p.CurrentSlot)
	f.w.TakeStats()

	f.w.PlayerLeftSlot("101")

	assert.Nil(t, p.CurrentSlot)
	assert.Nil(t, p.Instance)
	stats := f.w.TakeStats()
	require.Len(t, stats, 1)
	assert.Equal(t, core.StatDeslot, stats[0].Kind)
	assert.Equal(t, "101", stats[0].Detail)

	f.w.PlayerLeftSlot("101")
	assert.Empty(t, f.w.TakeStats(), "an empty slot leaves nothing to record")
}

func TestMaybeResetLives(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.w.RegisterPlayer("blue1", "Maverick", core.Blue))
	p, err := f.w.Player("blue1")
	require.NoError(t, err)
	p.Lives[core.LifeStandard] = core.LifeState{ResetAt: f.now, Lives: 1}
	f.w.TakeStats()

	reset, err := f.w.MaybeResetLives("blue1", f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Len(t, p.Lives, 1)

	reset, err = f.w.MaybeResetLives("blue1", f.now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Empty(t, p.Lives)
	stats := f.w.TakeStats()
	require.Len(t, stats, 1)
	assert.Equal(t, core.StatLivesReset, stats[0].Kind)

	_, err = f.w.MaybeResetLives("nobody", f.now)
	assert.ErrorIs(t, err, ErrNotFound)
}
