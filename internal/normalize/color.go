package normalize

import (
	"strconv"
	"strings"

	"clubcal/internal/model"
)

// Palette maps event types to display colors ("#rrggbb").
type Palette map[model.EventType]string

func DefaultPalette() Palette {
	return Palette{
		model.TypeRide:    "#c62828",
		model.TypeMeeting: "#1565c0",
		model.TypeEvent:   "#f9a825",
		model.TypeOther:   "#6d6d6d",
	}
}

func (p Palette) Color(t model.EventType) string {
	if c, ok := p[t]; ok && c != "" {
		return c
	}
	if c, ok := p[model.TypeOther]; ok && c != "" {
		return c
	}
	return DefaultPalette()[model.TypeOther]
}

// ContrastText picks black or white text for a background using the YIQ
// brightness formula. Unparseable colors get black.
func ContrastText(hex string) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return "#000000"
	}
	yiq := (r*299 + g*587 + b*114) / 1000
	if yiq >= 128 {
		return "#000000"
	}
	return "#ffffff"
}

func parseHex(hex string) (r, g, b int, ok bool) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true
}
