package handlers

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OCAP2/campaign/internal/dispatcher"
	"github.com/OCAP2/campaign/internal/world"
	"github.com/OCAP2/campaign/pkg/core"
)

var helpLines = []string{
	" blue: join the blue team",
	" red: join the red team",
	" -switch <color>: side switch to <color>",
	" -lives: display your current lives",
	" -balance: show your points balance",
	" -help: show this help message",
}

var adminHelpLines = []string{
	" -admin switch <color> <player>: move a player to <color>",
	" -admin deliver: deliver production to the logistics hubs now",
	" -admin transfer <from> <to>: move supplies between objectives",
	" -admin supply <objective>: show the stock of an objective",
	" -admin help: show this help message",
}

// handleChat runs chat commands. Lines that are not commands are returned
// unchanged so the host shows them.
func (s *Service) handleChat(e dispatcher.Event) (any, error) {
	ev, err := dispatcher.Decode[ChatEvent](e)
	if err != nil {
		return nil, err
	}
	now := s.now(e)
	msg := strings.TrimSpace(ev.Text)
	lower := strings.ToLower(msg)

	switch {
	case lower == "blue" || lower == "red":
		s.register(ev, lower)
	case strings.HasPrefix(lower, "-switch "):
		s.sideSwitch(ev, strings.TrimPrefix(lower, "-switch "))
	case lower == "-lives":
		s.lives(ev.Ucid, now)
	case strings.HasPrefix(lower, "-balance"):
		s.balance(ev.Ucid)
	case strings.HasPrefix(lower, "-admin "):
		s.admin(ev.Ucid, strings.Fields(msg)[1:], now)
	case strings.HasPrefix(lower, "-help"):
		s.help(ev.Ucid)
	case strings.HasPrefix(lower, "-"):
		s.tellPlayer(ev.Ucid, fmt.Sprintf(" %s is not a valid command. Valid commands follow.", msg))
		s.help(ev.Ucid)
	default:
		return ev.Text, nil
	}
	return "", nil
}

func (s *Service) register(ev ChatEvent, color string) {
	side, err := core.ParseSide(color)
	if err != nil {
		s.tellPlayer(ev.Ucid, err.Error())
		return
	}
	err = s.deps.World.RegisterPlayer(ev.Ucid, ev.Name, side)
	var regErr *world.RegisterError
	switch {
	case err == nil:
		s.tellPlayer(ev.Ucid, fmt.Sprintf("Welcome to the %s team. You may only occupy slots belonging to your team. Good luck!", side))
		s.tellAll(fmt.Sprintf("%s has joined %s team", ev.Name, side))
	case errors.As(err, &regErr) && regErr.Kind == world.RegisterAlreadyRegistered:
		s.tellPlayer(ev.Ucid, alreadyRegistered(regErr, side))
	default:
		s.tellPlayer(ev.Ucid, err.Error())
	}
}

func alreadyRegistered(e *world.RegisterError, want core.Side) string {
	switch {
	case e.SideSwitches == nil:
		return fmt.Sprintf("You are already on the %s team. You may switch sides by typing -switch %s.", e.Side, want)
	case *e.SideSwitches == 0:
		return fmt.Sprintf("You are already on the %s team, and you may not switch sides.", e.Side)
	case *e.SideSwitches == 1:
		return fmt.Sprintf("You are already on the %s team. You may switch sides 1 time by typing -switch %s.", e.Side, want)
	default:
		return fmt.Sprintf("You are already on the %s team. You may switch sides %d times. Type -switch %s.", e.Side, *e.SideSwitches, want)
	}
}

func (s *Service) sideSwitch(ev ChatEvent, color string) {
	side, err := core.ParseSide(color)
	if err != nil || side == core.Neutral {
		s.tellPlayer(ev.Ucid, "side must be blue or red")
		return
	}
	if err := s.deps.World.SideSwitchPlayer(ev.Ucid, side); err != nil {
		s.tellPlayer(ev.Ucid, err.Error())
		return
	}
	s.tellAll(fmt.Sprintf("%s has switched to %s", ev.Name, side))
}

func (s *Service) lives(ucid core.Ucid, now time.Time) {
	if _, err := s.deps.World.MaybeResetLives(ucid, now); err != nil {
		s.tellPlayer(ucid, "you are not registered, type blue or red to choose a side")
		return
	}
	p, err := s.deps.World.Player(ucid)
	if err != nil {
		return
	}
	if len(p.Lives) == 0 {
		s.tellPlayer(ucid, "all your lives are available")
		return
	}
	var types []core.LifeType
	for lt := range p.Lives {
		types = append(types, lt)
	}
	slices.Sort(types)
	for _, lt := range types {
		st := p.Lives[lt]
		text := fmt.Sprintf("%s: %d lives", lt, st.Lives)
		if lc, ok := s.deps.Config.LivesOf(lt); ok {
			text += fmt.Sprintf(", reset in %s", formatDuration(st.ResetAt.Add(lc.ResetAfter).Sub(now)))
		}
		s.tellPlayer(ucid, text)
	}
}

func (s *Service) balance(ucid core.Ucid) {
	p, err := s.deps.World.Player(ucid)
	if err != nil {
		s.tellPlayer(ucid, "you are not registered, type blue or red to choose a side")
		return
	}
	s.tellPlayer(ucid, fmt.Sprintf("You have %d points", p.Points))
}

func (s *Service) help(ucid core.Ucid) {
	for _, line := range helpLines {
		s.tellPlayer(ucid, line)
	}
	if s.deps.Config.IsAdmin(ucid) {
		s.tellPlayer(ucid, " -admin <command>: run admin commands, -admin help for details")
	}
}

// admin runs an admin command. Non admins get no answer at all.
func (s *Service) admin(ucid core.Ucid, args []string, now time.Time) {
	if !s.deps.Config.IsAdmin(ucid) {
		return
	}
	if len(args) == 0 || strings.EqualFold(args[0], "help") {
		for _, line := range adminHelpLines {
			s.tellPlayer(ucid, line)
		}
		return
	}
	switch strings.ToLower(args[0]) {
	case "switch":
		if len(args) < 3 {
			s.tellPlayer(ucid, "switch expects <color> <player>")
			return
		}
		side, err := core.ParseSide(args[1])
		if err != nil || side == core.Neutral {
			s.tellPlayer(ucid, "side must be blue or red")
			return
		}
		target := s.findPlayer(strings.Join(args[2:], " "))
		if target == nil {
			s.tellPlayer(ucid, fmt.Sprintf("no player named %s", strings.Join(args[2:], " ")))
			return
		}
		if err := s.deps.World.ForceSideSwitchPlayer(target.Ucid, side, now); err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		s.log.Info("Admin side switch", "admin", ucid, "player", target.Ucid, "side", side)
		s.tellAll(fmt.Sprintf("%s has been moved to %s", target.Name, side))
	case "deliver":
		if err := s.deps.World.AdminDeliverNow(now); err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		s.log.Info("Admin delivered production", "admin", ucid)
		s.tellPlayer(ucid, "production delivered")
	case "transfer":
		if len(args) != 3 {
			s.tellPlayer(ucid, "transfer expects <from> <to>")
			return
		}
		from, err := s.deps.World.ObjectiveByName(args[1])
		if err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		to, err := s.deps.World.ObjectiveByName(args[2])
		if err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		if err := s.deps.World.TransferSupplies(from.ID, to.ID); err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		s.log.Info("Admin supply transfer", "admin", ucid, "from", from.Name, "to", to.Name)
		s.tellPlayer(ucid, fmt.Sprintf("supplies transferred from %s to %s", from.Name, to.Name))
	case "supply":
		if len(args) < 2 {
			s.tellPlayer(ucid, "supply expects <objective>")
			return
		}
		obj, err := s.deps.World.ObjectiveByName(strings.Join(args[1:], " "))
		if err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		lines, err := s.deps.World.Inventory(obj.ID)
		if err != nil {
			s.tellPlayer(ucid, err.Error())
			return
		}
		s.tellPlayer(ucid, fmt.Sprintf("%s supply %d%% fuel %d%%", obj.Name, obj.Supply, obj.Fuel))
		for _, l := range lines {
			s.tellPlayer(ucid, " "+l)
		}
	default:
		s.tellPlayer(ucid, fmt.Sprintf("unknown admin command %s", args[0]))
	}
}

// findPlayer looks a player up by ucid, name or a former name.
func (s *Service) findPlayer(key string) *core.Player {
	if p, err := s.deps.World.Player(core.Ucid(key)); err == nil {
		return p
	}
	for _, p := range s.deps.World.Players() {
		if strings.EqualFold(p.Name, key) {
			return p
		}
	}
	for _, p := range s.deps.World.Players() {
		for _, alt := range p.AltNames {
			if strings.EqualFold(alt, key) {
				return p
			}
		}
	}
	return nil
}

// livesLeft describes the life pool lt of whoever sits in slot.
func livesLeft(w *world.World, slot core.SlotID, lt core.LifeType) string {
	for _, p := range w.Players() {
		if p.CurrentSlot == nil || *p.CurrentSlot != slot {
			continue
		}
		if st, ok := p.Lives[lt]; ok {
			return fmt.Sprintf("%d %s lives remaining", st.Lives, lt)
		}
		return fmt.Sprintf("all %s lives available", lt)
	}
	return ""
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
