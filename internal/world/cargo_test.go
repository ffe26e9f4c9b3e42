package world

import (
	"context"
	"testing"

	"github.com/OCAP2/campaign/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnCrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))

	gid, err := f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
	require.NoError(t, err)

	g, err := f.w.Group(gid)
	require.NoError(t, err)
	origin, ok := g.Origin.(core.OriginCrate)
	require.True(t, ok)
	assert.Equal(t, f.objective(t, "Alpha").ID, origin.Origin)
	assert.Equal(t, core.Ucid("blue1"), origin.Player)
	assert.Equal(t, launcherCrate, origin.Spec)
	assert.InDelta(t, 120, f.w.groupCenter(g).X, 1e-9, "crates land in front of the aircraft")
	assert.Equal(t, []core.GroupID{gid}, p.Crates)

	spawn, _, _ := f.w.QueueLens()
	assert.Equal(t, 1, spawn)

	_, err = f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
	assert.ErrorIs(t, err, ErrTooClose)
}

func TestSpawnCrate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))

	_, err := f.w.SpawnCrate(ctx, "101", "Nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	f.move(t, "obj-1", on(8000, 0))
	_, err = f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
	assert.ErrorIs(t, err, ErrNotNearLogistics)

	st := on(100, 100)
	st.InAir = true
	f.move(t, "obj-1", st)
	_, err = f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
	assert.ErrorIs(t, err, ErrMustLand)

	_, err = f.w.SpawnCrate(ctx, "999", launcherCrate.Name)
	assert.ErrorIs(t, err, ErrNotInSlot)
}

func TestSpawnCrate_EvictsOldest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))

	var gids []core.GroupID
	for _, y := range []float64{100, 300, 500} {
		f.move(t, "obj-1", on(100, y))
		gid, err := f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
		require.NoError(t, err)
		gids = append(gids, gid)
	}

	assert.Equal(t, gids[1:], p.Crates)
	_, err := f.w.Group(gids[0])
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, f.w.p.Crates.Len())
}

func TestLoadAndUnloadCrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))
	gid, err := f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
	require.NoError(t, err)

	cr, err := f.w.LoadNearbyCrate(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, launcherCrate, cr)
	_, err = f.w.Group(gid)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.w.Cargo("101").Crates, 1)

	_, err = f.w.LoadNearbyCrate(ctx, "101")
	assert.ErrorIs(t, err, ErrCargoFull)

	fast := on(5000, 0)
	fast.InAir = true
	fast.Velocity = core.Vector3{X: 10}
	f.move(t, "obj-1", fast)
	_, err = f.w.UnloadCrate(ctx, "101")
	assert.ErrorIs(t, err, ErrTooFast)
	assert.Len(t, f.w.Cargo("101").Crates, 1, "a refused drop keeps the crate")

	high := on(5000, 0)
	high.InAir = true
	high.AGL = 30
	f.move(t, "obj-1", high)
	_, err = f.w.UnloadCrate(ctx, "101")
	assert.ErrorIs(t, err, ErrTooHigh)

	f.move(t, "obj-1", on(5000, 0))
	cr, err = f.w.UnloadCrate(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, launcherCrate, cr)
	assert.Empty(t, f.w.Cargo("101").Crates)

	nearby, err := f.w.ListNearbyCrates(ctx, "101")
	require.NoError(t, err)
	require.Len(t, nearby, 1)
	assert.Equal(t, f.objective(t, "Alpha").ID, nearby[0].Origin, "the origin travels with the crate")

	_, err = f.w.UnloadCrate(ctx, "101")
	assert.ErrorIs(t, err, ErrNoCargo)
}

func TestDestroyNearbyCrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))
	gid, err := f.w.SpawnCrate(ctx, "101", launcherCrate.Name)
	require.NoError(t, err)

	require.NoError(t, f.w.DestroyNearbyCrate(ctx, "101"))
	_, err = f.w.Group(gid)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.w.DestroyNearbyCrate(ctx, "101"), ErrNoCrates)
}

func TestListNearbyCrates_OnlyFriendly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(8000, 0))
	bravo := f.objective(t, "Bravo")
	require.NoError(t, f.w.RegisterPlayer("red1", "Ivan", core.Red))
	f.dropCrate(t, core.Red, launcherCrate, bravo.ID, "red1", v(8010, 0))
	blue := f.dropCrate(t, core.Blue, radarCrate, bravo.ID, "blue1", v(8030, 0))

	nearby, err := f.w.ListNearbyCrates(ctx, "101")
	require.NoError(t, err)
	require.Len(t, nearby, 1)
	assert.Equal(t, blue, nearby[0].Group)
	assert.InDelta(t, 30, nearby[0].Distance, 1e-9)
}

func TestTroops_LoadUnloadExtractReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))

	tr, err := f.w.LoadTroops(ctx, "101", "Capture")
	require.NoError(t, err)
	assert.Equal(t, blueTroop, tr)
	_, err = f.w.LoadTroops(ctx, "101", "Capture")
	assert.ErrorIs(t, err, ErrCargoFull)

	f.move(t, "obj-1", on(8000, 0))
	_, err = f.w.LoadTroops(ctx, "101", "Capture")
	assert.ErrorIs(t, err, ErrNotNearLogistics)

	_, err = f.w.UnloadTroops(ctx, "101")
	require.NoError(t, err)
	require.Equal(t, 1, f.w.p.Troops.Len())
	gid := f.w.p.Troops.Sorted()[0]
	g, err := f.w.Group(gid)
	require.NoError(t, err)
	origin := g.Origin.(core.OriginTroop)
	require.NotNil(t, origin.Origin)
	assert.Equal(t, f.objective(t, "Alpha").ID, *origin.Origin)

	_, err = f.w.ExtractTroops(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 0, f.w.p.Troops.Len())
	assert.Len(t, f.w.Cargo("101").Troops, 1)

	_, err = f.w.ReturnTroops(ctx, "101")
	assert.ErrorIs(t, err, ErrNotNearLogistics)

	f.move(t, "obj-1", on(100, 100))
	_, err = f.w.ReturnTroops(ctx, "101")
	require.NoError(t, err)
	cargo := f.w.Cargo("101")
	assert.True(t, cargo.Empty())

	_, err = f.w.ExtractTroops(ctx, "101")
	assert.ErrorIs(t, err, ErrNoTroops)
}

func TestUnloadTroops_ThreatenedObjective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))
	_, err := f.w.LoadTroops(ctx, "101", "Capture")
	require.NoError(t, err)

	f.objective(t, "Alpha").Threatened = true
	_, err = f.w.UnloadTroops(ctx, "101")
	assert.ErrorIs(t, err, ErrThreatened)
	assert.Len(t, f.w.Cargo("101").Troops, 1)
}

func TestUnloadTroops_DeletesOldestAtLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))

	for _, y := range []float64{0, 500, 1000} {
		f.move(t, "obj-1", on(100, 100))
		_, err := f.w.LoadTroops(ctx, "101", "Capture")
		require.NoError(t, err)
		f.move(t, "obj-1", on(8000, y))
		_, err = f.w.UnloadTroops(ctx, "101")
		require.NoError(t, err)
	}

	ids := f.w.p.Troops.Sorted()
	require.Len(t, ids, 2)
	for _, gid := range ids {
		g, err := f.w.Group(gid)
		require.NoError(t, err)
		assert.Greater(t, f.w.groupCenter(g).Y, 100.0, "the first squad was removed")
	}
}

func TestUnloadTroops_DenyAtLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fly(t, "blue1", core.Blue, "101", "obj-1", on(100, 100))
	spec := blueTroop
	spec.Limit = 1
	spec.LimitEnforce = core.DenyCrate
	f.troops(t, core.Blue, spec, "blue1", nil, v(9000, 0))
	f.w.e.cargoOf("101").Troops = append(f.w.e.cargoOf("101").Troops, core.CarriedTroop{Player: "blue1", Spec: spec})

	f.move(t, "obj-1", on(8000, 0))
	_, err := f.w.UnloadTroops(ctx, "101")
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Len(t, f.w.Cargo("101").Troops, 1)
}
