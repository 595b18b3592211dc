package hotspot

import "fmt"

// Mode is the authoring placement state.
type Mode int

const (
	ModeIdle Mode = iota
	ModePlacing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModePlacing:
		return "placing"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*m = ModeIdle
	case "placing":
		*m = ModePlacing
	default:
		return fmt.Errorf("hotspot: unknown mode %q", b)
	}
	return nil
}

// Placement gates hotspot creation. Clicks only create hotspots while
// placing; a click that lands on the cloud ends placement whether or not
// the hotspot was accepted, while a click on empty space keeps placing.
type Placement struct {
	mode   Mode
	target int
}

// Mode returns the current state.
func (p *Placement) Mode() Mode { return p.mode }

// Target returns the scene new hotspots will link to.
func (p *Placement) Target() int { return p.target }

// Placing reports whether clicks create hotspots.
func (p *Placement) Placing() bool { return p.mode == ModePlacing }

// Begin enters placing mode with the given target scene.
func (p *Placement) Begin(target int) {
	p.mode = ModePlacing
	p.target = target
}

// Cancel returns to idle.
func (p *Placement) Cancel() { p.mode = ModeIdle }

// Clicked records the outcome of a click while placing.
func (p *Placement) Clicked(hitCloud bool) {
	if p.mode == ModePlacing && hitCloud {
		p.mode = ModeIdle
	}
}
