package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store := NewStore(path, 1024)

	values, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("Expected empty settings, got %v", values)
	}

	if err := store.Save(map[string]int{"quality": 10, "brightness": -1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	values, err = store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if values["quality"] != 10 || values["brightness"] != -1 {
		t.Errorf("Unexpected values: %v", values)
	}

	// 一時ファイルが残っていない
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only settings.json, got %d entries", len(entries))
	}
}

func TestStore_Decode(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"), 32)

	tests := []struct {
		name    string
		body    string
		wantErr error
		want    int
	}{
		{"valid", `{"quality":12}`, nil, 12},
		{"empty body", ``, nil, 0},
		{"invalid json", `{"quality":`, ErrInvalid, 0},
		{"not integers", `{"quality":"high"}`, ErrInvalid, 0},
		{"too large", `{"quality":1,"padding":` + strings.Repeat("1", 40) + `}`, ErrTooLarge, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := store.Decode(strings.NewReader(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if values["quality"] != tt.want {
				t.Errorf("Expected quality %d, got %d", tt.want, values["quality"])
			}
		})
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path, 1024).Load(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}
