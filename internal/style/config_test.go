package style

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCategory(t *testing.T) {
	f := NewFilter(nil)

	tests := []struct {
		name   string
		tags   map[string]string
		want   string
		wantOK bool
	}{
		{"house", map[string]string{"building": "house"}, "house", true},
		{"yes", map[string]string{"building": "yes", "name": "A"}, "yes", true},
		{"building=no", map[string]string{"building": "no"}, "", false},
		{"empty value", map[string]string{"building": ""}, "", false},
		{"blank value", map[string]string{"building": "  "}, "", false},
		{"padded value", map[string]string{"building": " house "}, "house", true},
		{"padded building=no", map[string]string{"building": "no "}, "", false},
		{"no building key", map[string]string{"highway": "primary"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.Category(tt.tags)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Category() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	data := `
buildings:
  require_any: [building, "building:part"]
  exclude:
    building: [ruins, "no"]
bounds: "122,20,154,46"
source: "PLATEAU"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Bounds != "122,20,154,46" || cfg.Source != "PLATEAU" {
		t.Errorf("unexpected profile %+v", cfg)
	}

	f := NewFilter(cfg.Buildings)
	if got, ok := f.Category(map[string]string{"building:part": "roof"}); !ok || got != "roof" {
		t.Errorf("building:part not recognized: %q %v", got, ok)
	}
	if _, ok := f.Category(map[string]string{"building": "ruins"}); ok {
		t.Error("excluded value accepted")
	}
}

func TestLoadConfigRejectsEmptyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("buildings:\n  require_any: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for profile without category keys")
	}
}

func TestIncludeRestrictsValues(t *testing.T) {
	f := NewFilter(&FilterConfig{
		RequireAny: []string{"building"},
		Include:    map[string][]string{"building": {"house", "apartments"}},
	})
	if _, ok := f.Category(map[string]string{"building": "house"}); !ok {
		t.Error("included value rejected")
	}
	if _, ok := f.Category(map[string]string{"building": "shed"}); ok {
		t.Error("value outside include list accepted")
	}
}
