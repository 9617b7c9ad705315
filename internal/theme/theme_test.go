package theme

import "testing"

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"catppuccin-mocha", "catppuccin-mocha", true},
		{"Dracula", "dracula", true},
		{"dark", "catppuccin-mocha", true},
		{"light", "catppuccin-latte", true},
		{"", DefaultName, false},
		{"solarized", DefaultName, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(tt.name)
			if got.Name != tt.want || ok != tt.wantOK {
				t.Errorf("Lookup(%q) = %s, %v; want %s, %v", tt.name, got.Name, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	if len(names) != len(builtins) {
		t.Fatalf("got %d names, want %d", len(names), len(builtins))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}
