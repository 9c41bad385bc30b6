package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fleetsync/internal/driver"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
	"fleetsync/internal/syncagent"
)

const help = `commands:
  login <name> <lat> <lng>      start a shift at a position
  toggle                        start or end the current route
  break | resume | offduty      movement status changes
  fuel <0-100>                  report the fuel level
  loc <lat> <lng> [accuracy]    report a GPS fix
  issue <type> [priority] [description...]
  status                        show the driver, routes and sync state
  sync | fullsync               pull now / push everything
  quit`

// shell is the driver's line-oriented front end
type shell struct {
	ctrl  *driver.Controller
	agent *syncagent.Agent
	store *localstore.Store
	out   io.Writer
}

// Run reads commands until EOF, "quit" or ctx cancellation
func (s *shell) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(s.out, help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "quit" || fields[0] == "exit" {
				return nil
			}
			if err := s.exec(ctx, fields[0], fields[1:]); err != nil {
				fmt.Fprintln(s.out, "❌", err)
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) != 3 {
			return errors.New("usage: login <name> <lat> <lng>")
		}
		lat, lng, err := parseCoords(args[1], args[2])
		if err != nil {
			return err
		}
		u, err := s.ctrl.Login(ctx, models.User{Name: args[0]}, lat, lng)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "👋 %s is %s\n", u.Name, u.MovementStatus)

	case "toggle":
		ok, err := s.ctrl.ToggleRoute(ctx)
		if err != nil || !ok {
			return err
		}
		return s.printDriver()

	case "break":
		return s.then(s.ctrl.TakeBreak(ctx))
	case "resume":
		return s.then(s.ctrl.EndBreak(ctx))
	case "offduty":
		return s.then(s.ctrl.GoOffDuty(ctx))

	case "fuel":
		if len(args) != 1 {
			return errors.New("usage: fuel <0-100>")
		}
		level, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("fuel level: %w", err)
		}
		return s.then(s.ctrl.UpdateFuel(ctx, level))

	case "loc":
		if len(args) < 2 {
			return errors.New("usage: loc <lat> <lng> [accuracy]")
		}
		lat, lng, err := parseCoords(args[0], args[1])
		if err != nil {
			return err
		}
		var accuracy *float64
		if len(args) > 2 {
			a, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("accuracy: %w", err)
			}
			accuracy = &a
		}
		loc, err := s.ctrl.UpdateLocation(ctx, lat, lng, accuracy)
		if err != nil {
			return err
		}
		if loc.Speed != nil {
			fmt.Fprintf(s.out, "📍 %.5f,%.5f at %.1f m/s\n", loc.Lat, loc.Lng, *loc.Speed)
		} else {
			fmt.Fprintf(s.out, "📍 %.5f,%.5f\n", loc.Lat, loc.Lng)
		}

	case "issue":
		if len(args) == 0 {
			return errors.New("usage: issue <type> [priority] [description...]")
		}
		priority := ""
		if len(args) > 1 {
			priority = args[1]
		}
		desc := ""
		if len(args) > 2 {
			desc = strings.Join(args[2:], " ")
		}
		issue, err := s.ctrl.ReportIssue(ctx, args[0], priority, desc)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "🚨 issue %s reported\n", issue.ID)

	case "status":
		if err := s.printDriver(); err != nil {
			return err
		}
		for _, r := range s.store.Routes() {
			if r.DriverID == s.ctrl.DriverID() {
				fmt.Fprintf(s.out, "   route %s: %s (%d bins)\n", r.ID, r.Status, len(r.BinIDs))
			}
		}
		fmt.Fprintf(s.out, "   health=%s online=%t pending=%d\n", s.agent.Health(), s.agent.Online(), s.agent.Queue().Len())

	case "sync":
		s.agent.RequestSync()
	case "fullsync":
		return s.agent.FullSync(ctx)

	case "help":
		fmt.Fprintln(s.out, help)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (s *shell) then(err error) error {
	if err != nil {
		return err
	}
	return s.printDriver()
}

func (s *shell) printDriver() error {
	u, err := s.ctrl.Driver()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "🚛 %s: %s, %s, fuel %.0f%%\n", u.ID, u.MovementStatus, u.Status, u.FuelLevel)
	return nil
}

func parseCoords(latRaw, lngRaw string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	return lat, lng, nil
}
