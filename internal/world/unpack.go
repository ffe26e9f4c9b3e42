package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OCAP2/campaign/internal/geo"
	"github.com/OCAP2/campaign/pkg/core"
)

// UnpackKind is what an unpack accomplished.
type UnpackKind uint8

const (
	RepairedBase UnpackKind = iota
	Unpacked
	UnpackedFarp
	Repaired
	TransferredSupplies
)

func (k UnpackKind) String() string {
	switch k {
	case RepairedBase:
		return "repaired base"
	case Unpacked:
		return "unpacked"
	case UnpackedFarp:
		return "unpacked farp"
	case Repaired:
		return "repaired"
	case TransferredSupplies:
		return "transferred supplies"
	default:
		return fmt.Sprintf("UnpackKind(%d)", k)
	}
}

// UnpackResult describes a successful unpack. Name is the objective for
// base repairs, supply transfers and FARPs and the deployable otherwise.
// Logi is only set for base repairs, From only for supply transfers.
type UnpackResult struct {
	Kind      UnpackKind
	Name      string
	Objective core.ObjectiveID
	Group     core.GroupID
	Logi      uint8
	From      string
}

// UnpackError collects why none of the crates nearby could be used.
type UnpackError struct {
	Reasons []error
}

func (e *UnpackError) Error() string {
	msgs := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		msgs[i] = r.Error()
	}
	return strings.Join(msgs, "\n")
}

func (e *UnpackError) Unwrap() []error { return e.Reasons }

// buildCandidate is a deployable whose crate requirements are met.
type buildCandidate struct {
	name   string
	spec   core.Deployable
	crates []NearbyCrate
}

type repairCandidate struct {
	name   string
	spec   core.Deployable
	group  core.GroupID
	crates []NearbyCrate
}

// oldest is the instance a DeleteOldest limit removes.
type oldest struct {
	group     core.GroupID
	objective core.ObjectiveID
	isFarp    bool
	found     bool
}

// gatherCrates returns the friendly crates within loading distance of pos
// and every friendly crate within crateSpread of those.
func (w *World) gatherCrates(side core.Side, pos core.Vector2) []NearbyCrate {
	near := sameSide(w.cratesNear(pos, w.cfg.CrateLoadDistance), side)
	seen := make(map[core.GroupID]struct{}, len(near))
	out := make([]NearbyCrate, 0, len(near))
	add := func(c NearbyCrate) {
		if _, ok := seen[c.Group]; ok {
			return
		}
		seen[c.Group] = struct{}{}
		c.Distance = c.Pos.Distance(pos)
		out = append(out, c)
	}
	for _, c := range near {
		add(c)
	}
	for _, c := range near {
		for _, n := range sameSide(w.cratesNear(c.Pos, w.cfg.CrateSpread), side) {
			add(n)
		}
	}
	return out
}

func crateCentroid(crates []NearbyCrate) core.Vector2 {
	pts := make([]core.Vector2, len(crates))
	for i, c := range crates {
		pts[i] = c.Pos
	}
	return geo.Centroid(pts)
}

func scaleZone(z core.Zone, f float64) core.Zone {
	if z.Kind != core.ZoneQuad {
		z.Radius *= f
		return z
	}
	for i, p := range z.Points {
		z.Points[i] = z.Center.Add(p.Sub(z.Center).Scale(f))
	}
	return z
}

// tooClose reports whether a deployable may not be built at centroid. An
// objective matters when a crate came from it, when it is friendly or
// when the deployable is a FARP. A FARP is kept out of every such
// objective; anything else only out of threatened ones.
func (w *World) tooClose(side core.Side, centroid core.Vector2, farp bool, crates []NearbyCrate) bool {
	for _, obj := range w.Objectives() {
		check := farp || obj.Owner == side
		for _, c := range crates {
			check = check || c.Origin == obj.ID
		}
		if !check || !(farp || obj.Threatened) {
			continue
		}
		if obj.Zone.Center.Distance(centroid) <= w.cfg.LogisticsExclusion || geo.Contains(scaleZone(obj.Zone, 1.1), centroid) {
			return true
		}
	}
	return false
}

// repairTarget returns the friendly objective containing centroid that
// none of the crates came from.
func (w *World) repairTarget(side core.Side, centroid core.Vector2, crates []NearbyCrate) *core.Objective {
	for _, obj := range w.Objectives() {
		if obj.Owner != side || !geo.Contains(obj.Zone, centroid) {
			continue
		}
		if slices.ContainsFunc(crates, func(c NearbyCrate) bool { return c.Origin == obj.ID }) {
			continue
		}
		return obj
	}
	return nil
}

// buildable groups crates by the deployable they belong to and keeps the
// deployables whose every crate is present, trimmed to the required
// count.
func (w *World) buildable(side core.Side, crates []NearbyCrate) ([]buildCandidate, []error) {
	idx := w.e.index[side]
	have := make(map[string]map[string][]NearbyCrate)
	for _, c := range crates {
		dep, ok := idx.deployableByCrate[c.Crate.Name]
		if !ok {
			continue
		}
		if have[dep] == nil {
			have[dep] = make(map[string][]NearbyCrate)
		}
		have[dep][c.Crate.Name] = append(have[dep][c.Crate.Name], c)
	}
	var (
		out     []buildCandidate
		reasons []error
	)
	for _, dep := range idx.deployableNames {
		byName, ok := have[dep]
		if !ok {
			continue
		}
		spec := idx.deployables[dep]
		cand := buildCandidate{name: dep, spec: spec}
		complete := true
		for _, req := range spec.Crates {
			got := byName[req.Name]
			if len(got) < req.Required {
				reasons = append(reasons, fmt.Errorf("can't spawn %s missing %s (%d of %d)", dep, req.Name, len(got), req.Required))
				complete = false
				break
			}
			cand.crates = append(cand.crates, got[:req.Required]...)
		}
		if complete {
			out = append(out, cand)
		}
	}
	return out, reasons
}

// repairable matches repair crates to the deployed groups near them.
func (w *World) repairable(side core.Side, crates []NearbyCrate) ([]repairCandidate, []error) {
	idx := w.e.index[side]
	byDep := make(map[string]*repairCandidate)
	var reasons []error
	for _, c := range crates {
		dep, ok := idx.deployableByRepair[c.Crate.Name]
		if !ok {
			continue
		}
		target, found := w.nearestDeployed(side, dep, c.Pos)
		if !found {
			reasons = append(reasons, fmt.Errorf("not close enough to repair %s", dep))
			continue
		}
		rc, ok := byDep[dep]
		if !ok {
			rc = &repairCandidate{name: dep, spec: idx.deployables[dep], group: target}
			byDep[dep] = rc
		}
		rc.crates = append(rc.crates, c)
	}
	var out []repairCandidate
	for _, dep := range sortedKeys(byDep) {
		rc := byDep[dep]
		need := max(1, rc.spec.RepairCrate.Required)
		if len(rc.crates) < need {
			reasons = append(reasons, fmt.Errorf("not enough crates to repair %s", dep))
			continue
		}
		rc.crates = rc.crates[:need]
		out = append(out, *rc)
	}
	return out, reasons
}

func (w *World) nearestDeployed(side core.Side, dep string, pos core.Vector2) (core.GroupID, bool) {
	for _, gid := range w.p.Deployed.Sorted() {
		g, ok := w.p.Groups[gid]
		if !ok || g.Side != side {
			continue
		}
		o, ok := g.Origin.(core.OriginDeployed)
		if !ok || o.Spec.Name() != dep {
			continue
		}
		for _, uid := range g.Units {
			if u, ok := w.p.Units[uid]; ok && u.Pos.Distance(pos) <= w.cfg.CrateSpread {
				return gid, true
			}
		}
	}
	return 0, false
}

// numberDeployed counts the live instances of a deployable on side and
// finds the oldest of them.
func (w *World) numberDeployed(side core.Side, dep string) (int, oldest) {
	var (
		n   int
		old oldest
	)
	for _, gid := range w.p.Deployed.Sorted() {
		g, ok := w.p.Groups[gid]
		if !ok || g.Side != side {
			continue
		}
		if o, ok := g.Origin.(core.OriginDeployed); ok && o.Spec.Name() == dep {
			if !old.found {
				old = oldest{group: gid, found: true}
			}
			n++
		}
	}
	for _, oid := range w.p.Farps.Sorted() {
		obj, ok := w.p.Objectives[oid]
		if !ok || obj.Owner != side || obj.Farp == nil || obj.Farp.Deployable.Name() != dep {
			continue
		}
		if !old.found {
			old = oldest{objective: oid, isFarp: true, found: true}
		}
		n++
	}
	return n, old
}

func (w *World) deleteOldest(old oldest) error {
	switch {
	case !old.found:
		return nil
	case old.isFarp:
		return w.DeleteObjective(old.objective)
	default:
		return w.DeleteGroup(old.group)
	}
}

func (w *World) deleteCrates(crates []NearbyCrate) error {
	for _, c := range crates {
		if err := w.DeleteGroup(c.Group); err != nil {
			return err
		}
	}
	return nil
}

// componentPositions averages the positions of crates carrying a PosUnit
// by unit type.
func componentPositions(crates []NearbyCrate) map[string]core.Vector2 {
	byType := make(map[string][]core.Vector2)
	for _, c := range crates {
		if c.Crate.PosUnit != "" {
			byType[c.Crate.PosUnit] = append(byType[c.Crate.PosUnit], c.Pos)
		}
	}
	out := make(map[string]core.Vector2, len(byType))
	for typ, pts := range byType {
		out[typ] = geo.Centroid(pts)
	}
	return out
}

// Unpakistan turns the crates around a landed aircraft into something
// useful. In order it tries a base logistics repair, a supply transfer,
// building a deployable and repairing a deployed group. Nothing changes
// when all of them fail; the returned *UnpackError lists why.
func (w *World) Unpakistan(ctx context.Context, slot core.SlotID) (UnpackResult, error) {
	ss, err := w.slotStats(ctx, slot)
	if err != nil {
		return UnpackResult{}, err
	}
	if ss.inAir {
		return UnpackResult{}, ErrMustLand
	}
	side := ss.player.Side
	crates := w.gatherCrates(side, ss.pos)
	if len(crates) == 0 {
		return UnpackResult{}, ErrNoCrates
	}
	now := w.now()
	var reasons []error

	if rc, ok := w.cfg.RepairCrateOf(side); ok {
		var base []NearbyCrate
		for _, c := range crates {
			if c.Crate.Name == rc.Name {
				base = append(base, c)
			}
		}
		if len(base) > 0 {
			res, err := w.repairBase(ss, base, now)
			switch {
			case err == nil:
				return res, nil
			case isRefusal(err):
				reasons = append(reasons, err)
			default:
				return UnpackResult{}, err
			}
		}
	}

	if tc, ok := w.cfg.SupplyTransferCrateOf(side); ok {
		var supply []NearbyCrate
		for _, c := range crates {
			if c.Crate.Name == tc.Name {
				supply = append(supply, c)
			}
		}
		if len(supply) > 0 {
			res, err := w.transferSupplyCrate(ss, supply, now)
			switch {
			case err == nil:
				return res, nil
			case isRefusal(err):
				reasons = append(reasons, err)
			default:
				return UnpackResult{}, err
			}
		}
	}

	cands, why := w.buildable(side, crates)
	reasons = append(reasons, why...)
	if len(cands) > 0 {
		res, err := w.build(ctx, ss, cands[0], now)
		switch {
		case err == nil:
			return res, nil
		case isRefusal(err):
			reasons = append(reasons, err)
		default:
			return UnpackResult{}, err
		}
	}

	repairs, why := w.repairable(side, crates)
	reasons = append(reasons, why...)
	if len(repairs) > 0 {
		res, err := w.repairDeployed(ss, repairs[0], now)
		switch {
		case err == nil:
			return res, nil
		case isRefusal(err):
			reasons = append(reasons, err)
		default:
			return UnpackResult{}, err
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, errors.New("nothing nearby can be unpacked"))
	}
	return UnpackResult{}, &UnpackError{Reasons: reasons}
}

// refusal is a failure that lets Unpakistan try the next use of the
// crates.
type refusal struct{ err error }

func (r *refusal) Error() string { return r.err.Error() }
func (r *refusal) Unwrap() error { return r.err }

func refuse(err error) error { return &refusal{err: err} }

func refusef(format string, args ...any) error {
	return refuse(fmt.Errorf(format, args...))
}

func isRefusal(err error) bool {
	var r *refusal
	return errors.As(err, &r)
}

func (w *World) repairBase(ss *slotStats, crates []NearbyCrate, now time.Time) (UnpackResult, error) {
	side := ss.player.Side
	obj := w.repairTarget(side, crateCentroid(crates), crates)
	if obj == nil {
		return UnpackResult{}, refusef("not close enough to a friendly objective")
	}
	if obj.Logi == 100 {
		return UnpackResult{}, refusef("objective logistics are completely repaired")
	}
	if err := w.RepairOneLogiStep(side, obj.ID, now); err != nil {
		return UnpackResult{}, err
	}
	if err := w.DeleteGroup(crates[0].Group); err != nil {
		return UnpackResult{}, err
	}
	w.stat(core.Stat{Time: now, Kind: core.StatRepair, Side: side, Player: &ss.player.Ucid, Objective: &obj.ID, Detail: "logistics"})
	if w.cfg.Points != nil {
		if _, err := w.AdjustPoints(ss.player.Ucid, w.cfg.Points.LogisticsRepair, "logistics repair"); err != nil {
			return UnpackResult{}, err
		}
	}
	return UnpackResult{Kind: RepairedBase, Name: obj.Name, Objective: obj.ID, Logi: obj.Logi}, nil
}

// transferSupplyCrate empties a supply transfer crate into the friendly
// objective it sits in. The crate carries supplies of the objective it was
// spawned at.
func (w *World) transferSupplyCrate(ss *slotStats, crates []NearbyCrate, now time.Time) (UnpackResult, error) {
	side := ss.player.Side
	to := w.repairTarget(side, crateCentroid(crates), crates)
	if to == nil {
		return UnpackResult{}, refusef("not close enough to a friendly objective")
	}
	cr := crates[0]
	from, err := w.Objective(cr.Origin)
	if err != nil {
		return UnpackResult{}, refusef("the objective these supplies came from is gone")
	}
	if from.Owner != side {
		return UnpackResult{}, refusef("%s has been captured, its supplies are lost", from.Name)
	}
	if err := w.TransferSupplies(from.ID, to.ID); err != nil {
		return UnpackResult{}, err
	}
	if err := w.DeleteGroup(cr.Group); err != nil {
		return UnpackResult{}, err
	}
	w.stat(core.Stat{Time: now, Kind: core.StatSupplyTransfer, Side: side, Player: &ss.player.Ucid, Objective: &to.ID, Detail: from.Name})
	if w.cfg.Points != nil && w.cfg.Points.LogisticsTransfer != 0 {
		if _, err := w.AdjustPoints(ss.player.Ucid, w.cfg.Points.LogisticsTransfer, "supply transfer"); err != nil {
			return UnpackResult{}, err
		}
	}
	return UnpackResult{Kind: TransferredSupplies, Name: to.Name, Objective: to.ID, From: from.Name}, nil
}

func (w *World) build(ctx context.Context, ss *slotStats, cand buildCandidate, now time.Time) (UnpackResult, error) {
	side := ss.player.Side
	spec := cand.spec
	centroid := crateCentroid(cand.crates)
	if w.tooClose(side, centroid, spec.IsObjective(), cand.crates) {
		if spec.IsObjective() {
			return UnpackResult{}, refuse(fmt.Errorf("%w: can't unpack %s here", ErrTooClose, cand.name))
		}
		return UnpackResult{}, refuse(fmt.Errorf("%w: can't unpack %s here while enemies are close", ErrTooClose, cand.name))
	}
	if err := w.canAfford(ss.player, spec.Cost); err != nil {
		return UnpackResult{}, refuse(err)
	}
	n, old := w.numberDeployed(side, cand.name)
	atLimit := spec.Limit > 0 && n >= spec.Limit
	if atLimit && spec.LimitEnforce == core.DenyCrate {
		return UnpackResult{}, refuse(fmt.Errorf("%w: the max number of %s are already deployed", ErrLimitReached, cand.name))
	}
	origins := make([]core.ObjectiveID, 0, len(cand.crates))
	for _, c := range cand.crates {
		origins = append(origins, c.Origin)
	}
	slices.Sort(origins)

	res := UnpackResult{Kind: Unpacked, Name: cand.name}
	if spec.IsObjective() {
		freed := ""
		if atLimit && old.isFarp {
			if obj, ok := w.p.Objectives[old.objective]; ok && obj.Farp != nil {
				freed = obj.Farp.PadTemplate
			}
		}
		plan, err := w.planFarp(side, &spec, freed)
		if err != nil {
			if errors.Is(err, ErrNoPads) {
				return UnpackResult{}, refuse(err)
			}
			return UnpackResult{}, err
		}
		if atLimit {
			if err := w.deleteOldest(old); err != nil {
				return UnpackResult{}, err
			}
		}
		oid, err := w.addFarp(ctx, side, centroid, &spec, plan, now)
		if err != nil {
			return UnpackResult{}, err
		}
		res.Kind = UnpackedFarp
		res.Objective = oid
		res.Name = w.p.Objectives[oid].Name
	} else {
		var loc core.SpawnLoc
		if comps := componentPositions(cand.crates); len(comps) > 0 {
			loc.AtPosWithComponents = &core.AtPosWithComponents{Pos: centroid, Components: comps, Heading: ss.heading}
		} else {
			loc.AtPos = &core.AtPos{Pos: centroid, Heading: ss.heading}
		}
		origin := core.OriginDeployed{Player: ss.player.Ucid, Spec: spec, Origin: origins[0]}
		gid, err := w.AddAndQueueGroup(ctx, side, loc, spec.Template, origin, 0, nil)
		if err != nil {
			if errors.Is(err, ErrInWater) {
				return UnpackResult{}, refuse(err)
			}
			return UnpackResult{}, err
		}
		if atLimit {
			if err := w.deleteOldest(old); err != nil {
				return UnpackResult{}, err
			}
		}
		res.Group = gid
	}
	if err := w.deleteCrates(cand.crates); err != nil {
		return UnpackResult{}, err
	}
	w.stat(core.Stat{Time: now, Kind: core.StatDeploy, Side: side, Player: &ss.player.Ucid, Objective: core.Ptr(origins[0]), Group: groupPtr(res.Group), Detail: cand.name})
	if spec.Cost > 0 {
		if _, err := w.AdjustPoints(ss.player.Ucid, -spec.Cost, cand.name+" unpack"); err != nil {
			return UnpackResult{}, err
		}
	}
	return res, nil
}

func groupPtr(gid core.GroupID) *core.GroupID {
	if gid == 0 {
		return nil
	}
	return &gid
}

func (w *World) repairDeployed(ss *slotStats, cand repairCandidate, now time.Time) (UnpackResult, error) {
	side := ss.player.Side
	spec := cand.spec
	g, err := w.Group(cand.group)
	if err != nil {
		return UnpackResult{}, err
	}
	if spec.RepairCost > 0 && spec.RepairCost > ss.player.Points {
		return UnpackResult{}, refuse(fmt.Errorf("%w: repairing %s costs %d, you have %d", ErrInsufficientPoints, cand.name, spec.RepairCost, ss.player.Points))
	}
	if w.tooClose(side, crateCentroid(cand.crates), false, cand.crates) {
		return UnpackResult{}, refuse(fmt.Errorf("%w: can't repair %s here while enemies are close", ErrTooClose, cand.name))
	}
	if w.deadUnits(g) == 0 {
		return UnpackResult{}, refusef("%s is not damaged", cand.name)
	}
	n := w.reviveGroup(g)
	if err := w.deleteCrates(cand.crates); err != nil {
		return UnpackResult{}, err
	}
	w.e.pushSpawn(g.ID)
	w.MarkDirty()
	w.stat(core.Stat{Time: now, Kind: core.StatRepair, Side: side, Player: &ss.player.Ucid, Group: &g.ID, Value: n, Detail: cand.name})
	if spec.RepairCost > 0 {
		if _, err := w.AdjustPoints(ss.player.Ucid, -spec.RepairCost, cand.name+" repair"); err != nil {
			return UnpackResult{}, err
		}
	}
	return UnpackResult{Kind: Repaired, Name: cand.name, Group: g.ID}, nil
}
