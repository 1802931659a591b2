package effects

import (
	"fmt"
	"strings"
)

// Style selects the compositing rule.
type Style int

const (
	Classic Style = iota
	ColorBurn
	ElectricTrails
	Heatmap
	Chromatic
)

var styleNames = map[Style]string{
	Classic:        "classic",
	ColorBurn:      "colorBurn",
	ElectricTrails: "electricTrails",
	Heatmap:        "heatmap",
	Chromatic:      "chromatic",
}

func (s Style) String() string {
	if n, ok := styleNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Style(%d)", int(s))
}

// ParseStyle matches style names case-insensitively.
func ParseStyle(s string) (Style, error) {
	for st, name := range styleNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return st, nil
		}
	}
	if s == "" {
		return Classic, nil
	}
	return Classic, fmt.Errorf("unknown effect style %q", s)
}

// Persistent reports whether the style fades the previous output instead
// of clearing it.
func (s Style) Persistent() bool {
	return s == ElectricTrails || s == Heatmap
}

// Params configure one Compose call.
type Params struct {
	Style       Style
	Invert      bool
	Persistence float32 // retained fraction per tick, [0, MaxPersistence]
}
