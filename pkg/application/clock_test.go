package application_test

import (
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/google/go-cmp/cmp"
)

func TestVersionClock_Stamp(t *testing.T) {
	c := application.NewVersionClock()
	if diff := cmp.Diff(&patch.Stamp{Seq: 1, Base: 0}, c.Stamp("1/name")); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff(&patch.Stamp{Seq: 2, Base: 1}, c.Stamp("1/name")); diff != "" {
		t.Error(diff)
	}
	if v := c.Version("1/cost"); v != 0 {
		t.Errorf("untouched target at %d", v)
	}
}

func TestVersionClock_Observe(t *testing.T) {
	tests := []struct {
		name     string
		local    int
		remote   *patch.Stamp
		conflict bool
		version  uint64
	}{
		{"first write", 0, &patch.Stamp{Seq: 1, Base: 0}, false, 1},
		{"remote saw our write", 1, &patch.Stamp{Seq: 2, Base: 1}, false, 2},
		{"concurrent write", 1, &patch.Stamp{Seq: 1, Base: 0}, true, 1},
		{"remote far behind", 3, &patch.Stamp{Seq: 2, Base: 1}, true, 3},
		{"unstamped", 2, nil, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := application.NewVersionClock()
			for i := 0; i < tt.local; i++ {
				c.Stamp("t")
			}
			if got := c.Observe("t", tt.remote); got != tt.conflict {
				t.Errorf("conflict = %v, want %v", got, tt.conflict)
			}
			if v := c.Version("t"); v != tt.version {
				t.Errorf("version = %d, want %d", v, tt.version)
			}
		})
	}
}

func TestVersionClock_Reset(t *testing.T) {
	c := application.NewVersionClock()
	c.Stamp("t")
	c.Reset()
	if c.Observe("t", &patch.Stamp{Seq: 1, Base: 0}) {
		t.Error("reset clock must not report conflicts")
	}
}
