package hotspot

import "testing"

func TestPlacement(t *testing.T) {
	tests := []struct {
		name   string
		steps  func(p *Placement)
		want   Mode
		target int
	}{
		{"starts idle", func(p *Placement) {}, ModeIdle, 0},
		{"begin", func(p *Placement) { p.Begin(2) }, ModePlacing, 2},
		{"cancel", func(p *Placement) { p.Begin(2); p.Cancel() }, ModeIdle, 2},
		{"hit ends placing", func(p *Placement) { p.Begin(1); p.Clicked(true) }, ModeIdle, 1},
		{"miss keeps placing", func(p *Placement) { p.Begin(1); p.Clicked(false) }, ModePlacing, 1},
		{"click while idle is ignored", func(p *Placement) { p.Clicked(true) }, ModeIdle, 0},
		{"begin again retargets", func(p *Placement) { p.Begin(1); p.Begin(3) }, ModePlacing, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Placement
			tt.steps(&p)
			if p.Mode() != tt.want {
				t.Errorf("Mode() = %s, want %s", p.Mode(), tt.want)
			}
			if p.Placing() != (tt.want == ModePlacing) {
				t.Errorf("Placing() = %v", p.Placing())
			}
			if p.Target() != tt.target {
				t.Errorf("Target() = %d, want %d", p.Target(), tt.target)
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	if ModeIdle.String() != "idle" || ModePlacing.String() != "placing" {
		t.Errorf("names = %s, %s", ModeIdle, ModePlacing)
	}
	if Mode(9).String() != "Mode(9)" {
		t.Errorf("unknown = %s", Mode(9))
	}
	b, _ := ModePlacing.MarshalText()
	if string(b) != "placing" {
		t.Errorf("MarshalText = %s", b)
	}
}
