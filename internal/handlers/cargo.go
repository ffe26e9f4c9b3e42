package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/world"
)

// cargoAction decodes a CargoEvent and runs fn with it. Whatever fn
// returns is told to the player in the slot; refusals are not handler
// failures.
func (s *Service) cargoAction(e dispatcher.Event, fn func(context.Context, CargoEvent) (string, error)) (any, error) {
	ev, err := dispatcher.Decode[CargoEvent](e)
	if err != nil {
		return nil, err
	}
	text, err := fn(context.Background(), ev)
	if err != nil {
		s.log.Debug("Cargo action refused", "command", e.Command, "slot", ev.Slot, "error", err)
		s.tellSlot(ev.Slot, err.Error())
		return err.Error(), nil
	}
	if text != "" {
		s.tellSlot(ev.Slot, text)
	}
	return text, nil
}

func (s *Service) handleCrateSpawn(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		if _, err := s.deps.World.SpawnCrate(ctx, ev.Slot, ev.Name); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s crate spawned", ev.Name), nil
	})
}

func (s *Service) handleCrateList(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		crates, err := s.deps.World.ListNearbyCrates(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		if len(crates) == 0 {
			return "", world.ErrNoCrates
		}
		lines := make([]string, len(crates))
		for i, c := range crates {
			lines[i] = fmt.Sprintf("%s crate %.0fm", c.Crate.Name, c.Distance)
		}
		return strings.Join(lines, "\n"), nil
	})
}

func (s *Service) handleCrateDestroy(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		if err := s.deps.World.DestroyNearbyCrate(ctx, ev.Slot); err != nil {
			return "", err
		}
		return "crate destroyed", nil
	})
}

func (s *Service) handleCrateLoad(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		crate, err := s.deps.World.LoadNearbyCrate(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s crate loaded", crate.Name), nil
	})
}

func (s *Service) handleCrateUnload(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		crate, err := s.deps.World.UnloadCrate(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s crate unloaded", crate.Name), nil
	})
}

func (s *Service) handleTroopsLoad(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		troop, err := s.deps.World.LoadTroops(ctx, ev.Slot, ev.Name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s troops loaded", troop.Name), nil
	})
}

func (s *Service) handleTroopsUnload(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		troop, err := s.deps.World.UnloadTroops(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s troops unloaded", troop.Name), nil
	})
}

func (s *Service) handleTroopsReturn(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		troop, err := s.deps.World.ReturnTroops(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s troops returned", troop.Name), nil
	})
}

func (s *Service) handleTroopsExtract(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		troop, err := s.deps.World.ExtractTroops(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s troops extracted", troop.Name), nil
	})
}

func (s *Service) handleUnpack(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(ctx context.Context, ev CargoEvent) (string, error) {
		res, err := s.deps.World.Unpakistan(ctx, ev.Slot)
		if err != nil {
			return "", err
		}
		return unpackText(res), nil
	})
}

func unpackText(res world.UnpackResult) string {
	switch res.Kind {
	case world.RepairedBase:
		return fmt.Sprintf("%s logistics repaired to %d%%", res.Name, res.Logi)
	case world.Repaired:
		return fmt.Sprintf("%s repaired", res.Name)
	case world.UnpackedFarp:
		return fmt.Sprintf("%s deployed", res.Name)
	case world.TransferredSupplies:
		return fmt.Sprintf("supplies transferred from %s to %s", res.From, res.Name)
	default:
		return fmt.Sprintf("%s unpacked", res.Name)
	}
}

func (s *Service) handleCargo(e dispatcher.Event) (any, error) {
	return s.cargoAction(e, func(_ context.Context, ev CargoEvent) (string, error) {
		cargo := s.deps.World.Cargo(ev.Slot)
		if cargo.Empty() {
			return "your cargo is empty", nil
		}
		var lines []string
		for _, t := range cargo.Troops {
			lines = append(lines, fmt.Sprintf("%s troops", t.Spec.Name))
		}
		for _, c := range cargo.Crates {
			lines = append(lines, fmt.Sprintf("%s crate", c.Spec.Name))
		}
		lines = append(lines, fmt.Sprintf("total weight %dkg", cargo.Weight()))
		return strings.Join(lines, "\n"), nil
	})
}
