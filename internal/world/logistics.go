package world

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OCAP2/campaign/internal/config"
	"github.com/OCAP2/campaign/pkg/core"
)

// SUPPLY
// Logistics hubs receive the production of their side every
// TicksPerDelivery warehouse ticks. On the other ticks they hand stock to
// the objectives they feed, the emptiest first, and even out stock between
// each other. Players move supplies by hand with supply transfer crates.

// ErrNoSupplySystem is returned by supply operations when no warehouse is
// configured.
var ErrNoSupplySystem = errors.New("the supply system is disabled")

// supplyItem is one line of a side's production.
type supplyItem struct {
	name     string
	liquid   bool
	aircraft bool
	qty      uint32
}

func productionItems(p config.Production) []supplyItem {
	var items []supplyItem
	for _, name := range sortedKeys(p.Equipment) {
		items = append(items, supplyItem{name: name, qty: p.Equipment[name]})
	}
	for _, name := range sortedKeys(p.Aircraft) {
		items = append(items, supplyItem{name: name, aircraft: true, qty: p.Aircraft[name]})
	}
	for _, name := range sortedKeys(p.Liquids) {
		items = append(items, supplyItem{name: name, liquid: true, qty: p.Liquids[name]})
	}
	return items
}

func (it supplyItem) key() stockKey { return stockKey{liquid: it.liquid, name: it.name} }

type stockKey struct {
	liquid bool
	name   string
}

type stock struct {
	stockKey
	inv core.Inventory
}

// stocks lists a warehouse, equipment first, each part by name.
func stocks(wh *core.Warehouse) []stock {
	out := make([]stock, 0, len(wh.Equipment)+len(wh.Liquids))
	for _, name := range sortedKeys(wh.Equipment) {
		out = append(out, stock{stockKey{name: name}, wh.Equipment[name]})
	}
	for _, name := range sortedKeys(wh.Liquids) {
		out = append(out, stock{stockKey{liquid: true, name: name}, wh.Liquids[name]})
	}
	return out
}

type transfer struct {
	from, to core.ObjectiveID
	stockKey
	amount uint32
}

func (w *World) execute(tr transfer) {
	src, dst := w.p.Objectives[tr.from], w.p.Objectives[tr.to]
	if src == nil || dst == nil {
		return
	}
	inv := src.Warehouse.Item(tr.liquid, tr.name)
	inv.Sub(tr.amount)
	src.Warehouse.SetItem(tr.liquid, tr.name, inv)
	inv = dst.Warehouse.Item(tr.liquid, tr.name)
	inv.Add(tr.amount)
	dst.Warehouse.SetItem(tr.liquid, tr.name, inv)
}

func hasSlotType(obj *core.Objective, typ string) bool {
	for _, s := range obj.Slots {
		if strings.EqualFold(s.UnitType, typ) {
			return true
		}
	}
	return false
}

// hubs returns the logistics hubs by id.
func (w *World) hubs() []*core.Objective {
	var out []*core.Objective
	for _, oid := range sortedKeys(w.p.Objectives) {
		if obj := w.p.Objectives[oid]; obj.IsHub() {
			out = append(out, obj)
		}
	}
	return out
}

// stockObjective sets the capacities of obj from its owner's production,
// filling the stock when fill is set.
func (w *World) stockObjective(obj *core.Objective, fill bool) {
	prod, ok := w.cfg.ProductionOf(obj.Owner)
	if !ok {
		return
	}
	hub := obj.IsHub()
	for _, it := range productionItems(prod) {
		if it.aircraft && !hub && !hasSlotType(obj, it.name) {
			continue
		}
		inv := obj.Warehouse.Item(it.liquid, it.name)
		inv.Capacity = w.cfg.Warehouse.Capacity(hub, it.qty)
		if fill {
			inv.Stored = inv.Capacity
		}
		obj.Warehouse.SetItem(it.liquid, it.name, inv)
	}
}

// initWarehouses fills every owned objective to capacity.
func (w *World) initWarehouses() {
	if w.cfg.Warehouse == nil {
		return
	}
	for _, oid := range sortedKeys(w.p.Objectives) {
		w.stockObjective(w.p.Objectives[oid], true)
	}
	w.updateSupplyStatus()
	w.setupSupplyLines()
}

// adjustWarehouses brings loaded warehouses in line with the current
// production: items no longer produced go, capacities follow the config.
func (w *World) adjustWarehouses() {
	if w.cfg.Warehouse == nil {
		return
	}
	for _, oid := range sortedKeys(w.p.Objectives) {
		obj := w.p.Objectives[oid]
		prod, ok := w.cfg.ProductionOf(obj.Owner)
		if !ok {
			continue
		}
		produced := make(map[stockKey]bool)
		for _, it := range productionItems(prod) {
			produced[it.key()] = true
		}
		for _, st := range stocks(&obj.Warehouse) {
			if produced[st.stockKey] {
				continue
			}
			if st.liquid {
				delete(obj.Warehouse.Liquids, st.name)
			} else {
				delete(obj.Warehouse.Equipment, st.name)
			}
		}
		w.stockObjective(obj, false)
		for _, st := range stocks(&obj.Warehouse) {
			if st.inv.Stored > st.inv.Capacity {
				st.inv.Stored = st.inv.Capacity
				obj.Warehouse.SetItem(st.liquid, st.name, st.inv)
			}
		}
	}
	w.updateSupplyStatus()
	w.setupSupplyLines()
}

// initFarpWarehouse gives a new FARP empty stock of everything but
// aircraft.
func (w *World) initFarpWarehouse(obj *core.Objective) {
	prod, ok := w.cfg.ProductionOf(obj.Owner)
	if !ok {
		return
	}
	for _, it := range productionItems(prod) {
		if it.aircraft {
			continue
		}
		obj.Warehouse.SetItem(it.liquid, it.name, core.Inventory{Capacity: w.cfg.Warehouse.Capacity(false, it.qty)})
	}
}

// captureWarehouse hands the stock of a captured objective to its new
// owner. Stock the new owner does not produce is lost.
func (w *World) captureWarehouse(obj *core.Objective, prev core.Side) {
	prod, ok := w.cfg.ProductionOf(obj.Owner)
	if !ok {
		return
	}
	hub := obj.IsHub()
	produced := make(map[stockKey]bool)
	for _, it := range productionItems(prod) {
		produced[it.key()] = true
		inv := obj.Warehouse.Item(it.liquid, it.name)
		if it.aircraft && !hub && !hasSlotType(obj, it.name) {
			inv = core.Inventory{}
		} else {
			inv.Capacity = w.cfg.Warehouse.Capacity(hub, it.qty)
		}
		obj.Warehouse.SetItem(it.liquid, it.name, inv)
	}
	if other, ok := w.cfg.ProductionOf(prev); ok {
		for _, it := range productionItems(other) {
			if !produced[it.key()] {
				obj.Warehouse.SetItem(it.liquid, it.name, core.Inventory{})
			}
		}
	}
}

// setupSupplyLines links every objective to the nearest friendly hub.
// Hubs whose destinations change are redrawn.
func (w *World) setupSupplyLines() {
	if w.cfg.Warehouse == nil {
		return
	}
	hubs := w.hubs()
	before := make(map[core.ObjectiveID][]core.ObjectiveID, len(hubs))
	for _, h := range hubs {
		before[h.ID] = h.Warehouse.Destinations
		h.Warehouse.Destinations = nil
	}
	for _, oid := range sortedKeys(w.p.Objectives) {
		obj := w.p.Objectives[oid]
		if obj.IsHub() {
			obj.Warehouse.Supplier = nil
			continue
		}
		var best *core.Objective
		for _, h := range hubs {
			if h.Owner != obj.Owner {
				continue
			}
			if best == nil || h.Zone.Center.DistanceSq(obj.Zone.Center) < best.Zone.Center.DistanceSq(obj.Zone.Center) {
				best = h
			}
		}
		if best == nil {
			obj.Warehouse.Supplier = nil
			continue
		}
		obj.Warehouse.Supplier = core.Ptr(best.ID)
		best.Warehouse.Destinations = append(best.Warehouse.Destinations, oid)
	}
	for _, h := range hubs {
		if !slices.Equal(before[h.ID], h.Warehouse.Destinations) {
			h.NeedsMark = true
		}
	}
}

func meanPercent(m map[string]core.Inventory) uint8 {
	var sum, n int
	for _, inv := range m {
		if pct, ok := inv.Percent(); ok {
			sum += int(pct)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return uint8(sum / n)
}

// updateSupplyStatus recomputes the supply and fuel percentages.
func (w *World) updateSupplyStatus() {
	for _, obj := range w.p.Objectives {
		supply, fuel := meanPercent(obj.Warehouse.Equipment), meanPercent(obj.Warehouse.Liquids)
		if supply != obj.Supply || fuel != obj.Fuel {
			obj.Supply, obj.Fuel = supply, fuel
			obj.NeedsMark = true
			w.MarkDirty()
		}
	}
}

type supplyNeed struct {
	obj       *core.Objective
	demanded  uint32
	allocated uint32
}

// deliverSuppliesFromHubs shares out the stock of every hub among the
// objectives it feeds that are short of something. Each round hands an
// eighth of what is left to each objective in turn, emptiest first.
func (w *World) deliverSuppliesFromHubs() {
	w.updateSupplyStatus()
	var transfers []transfer
	for _, hub := range w.hubs() {
		var needed []*supplyNeed
		for _, oid := range hub.Warehouse.Destinations {
			obj, ok := w.p.Objectives[oid]
			if !ok || obj.Owner != hub.Owner || (obj.Supply >= 100 && obj.Fuel >= 100) {
				continue
			}
			needed = append(needed, &supplyNeed{obj: obj})
		}
		if len(needed) == 0 {
			continue
		}
		for _, st := range stocks(&hub.Warehouse) {
			if st.inv.Stored == 0 {
				continue
			}
			slices.SortStableFunc(needed, func(a, b *supplyNeed) int {
				return cmp.Compare(a.obj.Warehouse.Item(st.liquid, st.name).Stored, b.obj.Warehouse.Item(st.liquid, st.name).Stored)
			})
			var total uint32
			for _, n := range needed {
				inv := n.obj.Warehouse.Item(st.liquid, st.name)
				n.demanded = inv.Capacity - min(inv.Stored, inv.Capacity)
				n.allocated = 0
				total += n.demanded
			}
			have, filled := st.inv.Stored, uint32(0)
			for have > 0 && filled < total {
				for _, n := range needed {
					if have == 0 {
						break
					}
					amount := min(max(1, have>>3), n.demanded-n.allocated)
					n.allocated += amount
					filled += amount
					have -= amount
				}
			}
			for _, n := range needed {
				if n.allocated > 0 {
					transfers = append(transfers, transfer{from: hub.ID, to: n.obj.ID, stockKey: st.stockKey, amount: n.allocated})
				}
			}
		}
	}
	for _, tr := range transfers {
		w.execute(tr)
	}
	w.balanceHubs()
}

type hubLevel struct {
	obj       *core.Objective
	had, have uint32
}

// balanceHubs moves stock from the fullest hubs of a side to the emptiest
// until every hub holds about the mean.
func (w *World) balanceHubs() {
	all := w.hubs()
	for _, side := range core.Sides {
		var hubs []*hubLevel
		for _, h := range all {
			if h.Owner == side {
				hubs = append(hubs, &hubLevel{obj: h})
			}
		}
		if len(hubs) < 2 {
			continue
		}
		var transfers []transfer
		for _, st := range stocks(&hubs[0].obj.Warehouse) {
			var sum uint64
			for _, h := range hubs {
				h.have = h.obj.Warehouse.Item(st.liquid, st.name).Stored
				h.had = h.have
				sum += uint64(h.have)
			}
			mean := uint32(sum / uint64(len(hubs)))
			if mean>>2 == 0 {
				continue
			}
			slices.SortStableFunc(hubs, func(a, b *hubLevel) int { return cmp.Compare(a.had, b.had) })
			take := len(hubs) - 1
			for i := range hubs {
				if hubs[i].have+1 >= mean {
					break
				}
				for hubs[i].have+1 < mean {
					for take > i && hubs[take].have <= mean {
						take--
					}
					if take == i {
						break
					}
					x := min(mean-hubs[i].have, hubs[take].have-mean)
					hubs[i].have += x
					hubs[take].have -= x
					transfers = append(transfers, transfer{from: hubs[take].obj.ID, to: hubs[i].obj.ID, stockKey: st.stockKey, amount: x})
				}
			}
		}
		for _, tr := range transfers {
			w.execute(tr)
		}
	}
	w.updateSupplyStatus()
}

// DeliverProduction adds a side's production to each of its hubs, then
// distributes from the hubs.
func (w *World) DeliverProduction(now time.Time) error {
	if w.cfg.Warehouse == nil {
		return ErrNoSupplySystem
	}
	w.setupSupplyLines()
	for _, hub := range w.hubs() {
		prod, ok := w.cfg.ProductionOf(hub.Owner)
		if !ok {
			continue
		}
		for _, it := range productionItems(prod) {
			m := hub.Warehouse.Equipment
			if it.liquid {
				m = hub.Warehouse.Liquids
			}
			inv, ok := m[it.name]
			if !ok {
				continue
			}
			inv.Add(it.qty)
			m[it.name] = inv
		}
		w.stat(core.Stat{Time: now, Kind: core.StatSupplyDelivery, Side: hub.Owner, Objective: core.Ptr(hub.ID), Detail: hub.Name})
	}
	w.MarkDirty()
	w.deliverSuppliesFromHubs()
	return nil
}

// LogisticsTick runs one warehouse tick when one is due and reports
// whether it did. The first call only starts the clock.
func (w *World) LogisticsTick(now time.Time) bool {
	wc := w.cfg.Warehouse
	if wc == nil {
		return false
	}
	if w.e.lastLogisticsTick.IsZero() {
		w.e.lastLogisticsTick = now
		return false
	}
	if now.Sub(w.e.lastLogisticsTick) < wc.Tick {
		return false
	}
	w.e.lastLogisticsTick = now
	if w.p.LogisticsTicksSinceDelivery >= wc.TicksPerDelivery {
		w.p.LogisticsTicksSinceDelivery = 0
		if err := w.DeliverProduction(now); err != nil {
			w.log.Error("Failed to deliver production", "error", err)
		}
	} else {
		w.p.LogisticsTicksSinceDelivery++
		w.deliverSuppliesFromHubs()
	}
	w.MarkDirty()
	return true
}

// TransferSupplies moves SupplyTransferSize percent of every stock of from
// to to, as much as to has room for.
func (w *World) TransferSupplies(from, to core.ObjectiveID) error {
	wc := w.cfg.Warehouse
	if wc == nil {
		return ErrNoSupplySystem
	}
	if from == to {
		return errors.New("you can't transfer supplies to the same objective")
	}
	src, err := w.Objective(from)
	if err != nil {
		return err
	}
	dst, err := w.Objective(to)
	if err != nil {
		return err
	}
	if src.Owner != dst.Owner {
		return fmt.Errorf("can't transfer supply from %s, an enemy objective", src.Name)
	}
	for _, st := range stocks(&src.Warehouse) {
		if st.inv.Stored == 0 {
			continue
		}
		d := dst.Warehouse.Item(st.liquid, st.name)
		room := d.Capacity - min(d.Stored, d.Capacity)
		amount := min(room, max(1, uint32(uint64(st.inv.Stored)*uint64(wc.SupplyTransferSize)/100)))
		if amount > 0 {
			w.execute(transfer{from: from, to: to, stockKey: st.stockKey, amount: amount})
		}
	}
	w.updateSupplyStatus()
	w.MarkDirty()
	return nil
}

// AdminDeliverNow delivers production immediately and restarts the
// delivery count.
func (w *World) AdminDeliverNow(now time.Time) error {
	if err := w.DeliverProduction(now); err != nil {
		return err
	}
	w.p.LogisticsTicksSinceDelivery = 0
	return nil
}

// Inventory lists the stock of an objective as "name stored/capacity"
// lines.
func (w *World) Inventory(oid core.ObjectiveID) ([]string, error) {
	obj, err := w.Objective(oid)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, st := range stocks(&obj.Warehouse) {
		lines = append(lines, fmt.Sprintf("%s %d/%d", st.name, st.inv.Stored, st.inv.Capacity))
	}
	return lines, nil
}
