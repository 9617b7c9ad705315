package earlyinit

import "testing"

func TestDark(t *testing.T) {
	for name, want := range map[string]bool{
		"":                 true,
		"dracula":          true,
		"light":            false,
		"catppuccin-latte": false,
		"unknown":          true,
	} {
		if got := Dark(name); got != want {
			t.Errorf("Dark(%q) = %v, want %v", name, got, want)
		}
	}
}
