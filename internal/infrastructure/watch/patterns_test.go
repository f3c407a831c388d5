package watch

import "testing"

func TestProjectOf(t *testing.T) {
	tests := []struct {
		path    string
		project string
		ok      bool
	}{
		{"/w/.plangrid/projects/alpha.json", "alpha", true},
		{"/w/.plangrid/projects/alpha.grid.json", "alpha", true},
		{"alpha.json.123.tmp", "", false},
		{"alpha.patches.jsonl", "", false},
		{"alpha.lock", "", false},
		{".alpha.json", "", false},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			project, ok := ProjectOf(tt.path)
			if project != tt.project || ok != tt.ok {
				t.Errorf("ProjectOf(%q) = %q, %v; want %q, %v", tt.path, project, ok, tt.project, tt.ok)
			}
		})
	}
}
