package world

import (
	"slices"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/internal/queue"
	"github.com/OCAP2/campaign/pkg/core"
)

type despawnItem struct {
	gid core.GroupID
	d   core.Despawn
}

// sideIndex is the configured logistics catalogue of one side.
type sideIndex struct {
	deployables        map[string]core.Deployable
	deployableNames    []string
	crates             map[string]core.Crate
	deployableByCrate  map[string]string
	deployableByRepair map[string]string
	troops             map[string]core.Troop
}

func newSideIndex(cfg *config.WorldConfig, side core.Side) *sideIndex {
	idx := &sideIndex{
		deployables:        make(map[string]core.Deployable),
		crates:             make(map[string]core.Crate),
		deployableByCrate:  make(map[string]string),
		deployableByRepair: make(map[string]string),
		troops:             make(map[string]core.Troop),
	}
	for _, d := range cfg.DeployablesOf(side) {
		name := d.Name()
		idx.deployables[name] = d
		idx.deployableNames = append(idx.deployableNames, name)
		for _, c := range d.Crates {
			idx.crates[c.Name] = c
			idx.deployableByCrate[c.Name] = name
		}
		if d.RepairCrate != nil {
			idx.crates[d.RepairCrate.Name] = *d.RepairCrate
			idx.deployableByRepair[d.RepairCrate.Name] = name
		}
	}
	slices.Sort(idx.deployableNames)
	if rc, ok := cfg.RepairCrateOf(side); ok {
		idx.crates[rc.Name] = rc
	}
	if tc, ok := cfg.SupplyTransferCrateOf(side); ok {
		idx.crates[tc.Name] = tc
	}
	for _, t := range cfg.TroopsOf(side) {
		idx.troops[t.Name] = t
	}
	return idx
}

// ephemeral is rebuilt on every start. It maps persisted entities to live
// host objects and carries the work queues of the tick loop.
type ephemeral struct {
	dirty bool
	index map[core.Side]*sideIndex

	uidByObject   map[core.ObjectID]core.UnitID
	objectByUnit  map[core.UnitID]core.ObjectID
	objectBySlot  map[core.SlotID]core.ObjectID
	slotByObject  map[core.ObjectID]core.SlotID
	playersBySlot map[core.SlotID]core.Ucid
	cargo         map[core.SlotID]*core.Cargo

	ableToMove     []core.UnitID
	moveCursor     int
	closeToEnemies idSet[core.UnitID]
	playerOperated idSet[core.UnitID]

	spawnQ   *queue.Queue[core.GroupID]
	despawnQ *queue.Queue[despawnItem]
	delayQ   *queue.Delayed[core.GroupID]

	usedPads map[string]struct{}

	lastLogisticsTick time.Time

	nextMark        core.MarkID
	groupMarks      map[core.GroupID]core.MarkID
	objectiveMarks  map[core.ObjectiveID][]core.MarkID
	groupsToMark    idSet[core.GroupID]
	marksToRemove   []core.MarkID
	forceSpectators map[core.Ucid]time.Time

	stats []core.Stat
}

func newEphemeral(cfg *config.WorldConfig) *ephemeral {
	e := &ephemeral{
		index:           make(map[core.Side]*sideIndex),
		uidByObject:     make(map[core.ObjectID]core.UnitID),
		objectByUnit:    make(map[core.UnitID]core.ObjectID),
		objectBySlot:    make(map[core.SlotID]core.ObjectID),
		slotByObject:    make(map[core.ObjectID]core.SlotID),
		playersBySlot:   make(map[core.SlotID]core.Ucid),
		cargo:           make(map[core.SlotID]*core.Cargo),
		closeToEnemies:  idSet[core.UnitID]{},
		playerOperated:  idSet[core.UnitID]{},
		spawnQ:          queue.New[core.GroupID](),
		despawnQ:        queue.New[despawnItem](),
		delayQ:          queue.NewDelayed[core.GroupID](),
		usedPads:        make(map[string]struct{}),
		groupMarks:      make(map[core.GroupID]core.MarkID),
		objectiveMarks:  make(map[core.ObjectiveID][]core.MarkID),
		groupsToMark:    idSet[core.GroupID]{},
		forceSpectators: make(map[core.Ucid]time.Time),
	}
	for _, s := range core.Sides {
		e.index[s] = newSideIndex(cfg, s)
	}
	return e
}

// pushSpawn queues a group to be instantiated. A pending despawn of the
// same group is cancelled instead, and a group waiting on a delayed spawn
// keeps its slot.
func (e *ephemeral) pushSpawn(gid core.GroupID) {
	found := false
	e.despawnQ.Retain(func(it despawnItem) bool {
		if it.gid == gid {
			found = true
			return false
		}
		return true
	})
	if found || e.spawnQ.Contains(gid) || e.delayQ.Contains(gid) {
		return
	}
	e.spawnQ.Push(gid)
}

// pushDespawn queues the removal of a group's host objects. A pending
// spawn of the same group is cancelled instead.
func (e *ephemeral) pushDespawn(gid core.GroupID, ds ...core.Despawn) {
	if e.spawnQ.Remove(gid) || e.delayQ.Remove(gid) {
		return
	}
	for _, d := range ds {
		it := despawnItem{gid: gid, d: d}
		if !e.despawnQ.Contains(it) {
			e.despawnQ.Push(it)
		}
	}
}

// clearUnit drops every host back reference of a unit.
func (e *ephemeral) clearUnit(uid core.UnitID) {
	if oid, ok := e.objectByUnit[uid]; ok {
		delete(e.uidByObject, oid)
		delete(e.objectByUnit, uid)
	}
	e.closeToEnemies.Remove(uid)
	e.playerOperated.Remove(uid)
	if i := slices.Index(e.ableToMove, uid); i >= 0 {
		e.ableToMove = slices.Delete(e.ableToMove, i, i+1)
	}
}

func (e *ephemeral) addAbleToMove(uid core.UnitID) {
	if !slices.Contains(e.ableToMove, uid) {
		e.ableToMove = append(e.ableToMove, uid)
	}
}

func (e *ephemeral) allocMark() core.MarkID {
	e.nextMark++
	return e.nextMark
}

func (e *ephemeral) cargoOf(slot core.SlotID) *core.Cargo {
	c, ok := e.cargo[slot]
	if !ok {
		c = &core.Cargo{}
		e.cargo[slot] = c
	}
	return c
}

// QueueLens returns the lengths of the spawn, despawn and delayed queues.
func (w *World) QueueLens() (spawn, despawn, delayed int) {
	return w.e.spawnQ.Len(), w.e.despawnQ.Len(), w.e.delayQ.Len()
}

// PushSpawn queues gid to be instantiated by ProcessSpawnQueue.
func (w *World) PushSpawn(gid core.GroupID) { w.e.pushSpawn(gid) }

// PushDespawn queues the host objects of gid for removal.
func (w *World) PushDespawn(gid core.GroupID) error {
	g, err := w.Group(gid)
	if err != nil {
		return err
	}
	w.e.pushDespawn(gid, w.despawnsOf(g)...)
	return nil
}

// ForceToSpectators queues a player to be moved to spectators.
func (w *World) ForceToSpectators(ucid core.Ucid, at time.Time) {
	w.e.forceSpectators[ucid] = at
}

// PlayersToForceToSpectators returns and forgets the players whose move
// to spectators is due.
func (w *World) PlayersToForceToSpectators(now time.Time) []core.Ucid {
	var out []core.Ucid
	for _, ucid := range sortedKeys(w.e.forceSpectators) {
		if !w.e.forceSpectators[ucid].After(now) {
			out = append(out, ucid)
			delete(w.e.forceSpectators, ucid)
		}
	}
	return out
}
