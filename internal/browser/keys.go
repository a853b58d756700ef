package browser

import (
	"fmt"
	"strings"
)

// Modifier names in canonical (Playwright) spelling
const (
	ModControl = "Control"
	ModMeta    = "Meta"
	ModShift   = "Shift"
	ModAlt     = "Alt"
)

var modifierAliases = map[string]string{
	"control": ModControl,
	"ctrl":    ModControl,
	"meta":    ModMeta,
	"cmd":     ModMeta,
	"command": ModMeta,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
}

// Chord is a parsed key combination like Control+a
type Chord struct {
	Modifiers []string
	Key       string
}

// String renders the chord in the form Playwright's keyboard API accepts
func (c Chord) String() string {
	parts := append(append([]string{}, c.Modifiers...), c.Key)
	return strings.Join(parts, "+")
}

// ParseChord splits "Shift+Enter" into modifiers and key. Modifier aliases
// (Ctrl, Cmd, Option) are normalized; the key part is kept verbatim.
func ParseChord(chord string) (Chord, error) {
	chord = strings.TrimSpace(chord)
	if chord == "" {
		return Chord{}, fmt.Errorf("empty key chord")
	}
	// A literal plus as the key: "Shift++"
	if chord == "+" || strings.HasSuffix(chord, "++") {
		c, err := parseModifiers(strings.TrimSuffix(strings.TrimSuffix(chord, "+"), "+"))
		c.Key = "+"
		return c, err
	}

	parts := strings.Split(chord, "+")
	key := parts[len(parts)-1]
	if key == "" {
		return Chord{}, fmt.Errorf("key chord %q has no key", chord)
	}
	c, err := parseModifiers(strings.Join(parts[:len(parts)-1], "+"))
	if err != nil {
		return Chord{}, err
	}
	c.Key = key
	return c, nil
}

func parseModifiers(s string) (Chord, error) {
	var c Chord
	if s == "" {
		return c, nil
	}
	for _, m := range strings.Split(s, "+") {
		name, ok := modifierAliases[strings.ToLower(strings.TrimSpace(m))]
		if !ok {
			return Chord{}, fmt.Errorf("unknown key modifier %q", m)
		}
		c.Modifiers = append(c.Modifiers, name)
	}
	return c, nil
}
