package patch_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/google/go-cmp/cmp"
)

var meta = patch.Meta{Project: "alpha", User: "ana", ClientID: "abc-123"}

func TestPatch_FlatWireForm(t *testing.T) {
	p := patch.New(meta, patch.Update{TaskID: 7, Field: tree.FieldName, Value: "Design"})
	data, err := patch.Encode(p)
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"op": "update", "project": "alpha", "user": "ana", "clientId": "abc-123",
		"taskId": float64(7), "field": "name", "value": "Design",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wire form (-want +got):\n%s", diff)
	}
}

func TestDecode_EveryOp(t *testing.T) {
	key := grid.CellKey{Row: 0, Col: 4}
	payloads := []patch.Payload{
		patch.Update{TaskID: 1, Field: tree.FieldCost, Value: 12.5},
		patch.UpdateCell{Key: key, Cell: grid.Cell{Text: "Build > Design"}},
		patch.AddTask{Task: tree.NewTask(3, "New")},
		patch.DeleteTask{TaskID: 3},
		patch.AddSubtask{ParentID: 1, Task: tree.NewTask(4, "Child")},
		patch.DeleteSubtask{ParentID: 1, TaskID: 4},
		patch.ReorderSubtask{ParentID: 1, TaskID: 2, Direction: tree.DirectionUp},
		patch.UpdateComment{Key: key, Comment: "check dates"},
	}
	if len(payloads) != len(patch.AllOps()) {
		t.Fatalf("test covers %d ops, want %d", len(payloads), len(patch.AllOps()))
	}

	for _, pl := range payloads {
		t.Run(string(pl.Op()), func(t *testing.T) {
			in := patch.New(meta, pl)
			in.Stamp = &patch.Stamp{Seq: 3, Base: 2}
			data, err := patch.Encode(in)
			if err != nil {
				t.Fatal(err)
			}
			out, err := patch.Decode(data)
			if err != nil {
				t.Fatalf("decode %s: %v", data, err)
			}
			if diff := cmp.Diff(in, out); diff != "" {
				t.Errorf("decoded patch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_RejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown op":      `{"op":"explode","project":"p","clientId":"c"}`,
		"missing client":  `{"op":"deleteTask","project":"p","taskId":1}`,
		"missing field":   `{"op":"update","project":"p","clientId":"c","taskId":1,"value":1}`,
		"bad cell key":    `{"op":"updateCell","project":"p","clientId":"c","key":"a-b","cell":{"text":""}}`,
		"bad direction":   `{"op":"reorderSubtask","project":"p","clientId":"c","taskId":2,"direction":"left"}`,
		"subtask no task": `{"op":"addSubtask","project":"p","clientId":"c","parentId":1}`,
		"not an object":   `[1,2]`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := patch.Decode([]byte(raw)); !errors.Is(err, patch.ErrInvalidPatch) {
				t.Errorf("expected ErrInvalidPatch, got %v", err)
			}
		})
	}
}

func TestUnmarshal_UnknownOp(t *testing.T) {
	var p patch.Patch
	err := json.Unmarshal([]byte(`{"op":"explode","project":"p","clientId":"c"}`), &p)
	if !errors.Is(err, patch.ErrUnknownOp) {
		t.Errorf("expected ErrUnknownOp, got %v", err)
	}
}

func TestTarget(t *testing.T) {
	tests := []struct {
		payload patch.Payload
		want    string
	}{
		{patch.Update{TaskID: 5, Field: tree.FieldName}, "5/name"},
		{patch.UpdateCell{Key: grid.CellKey{Row: 2, Col: 8}}, "2-8"},
		{patch.UpdateComment{Key: grid.CellKey{Row: 2, Col: 8}}, "comment:2-8"},
		{patch.DeleteTask{TaskID: 9}, "task:9"},
	}
	for _, tt := range tests {
		if got := patch.New(meta, tt.payload).Target(); got != tt.want {
			t.Errorf("Target(%s) = %q, want %q", tt.payload.Op(), got, tt.want)
		}
	}
}

func TestOp_IsStructural(t *testing.T) {
	for _, op := range patch.AllOps() {
		want := op != patch.OpUpdate && op != patch.OpUpdateCell && op != patch.OpUpdateComment
		if op.IsStructural() != want {
			t.Errorf("%s.IsStructural() = %v", op, !want)
		}
	}
}

func TestNewClientID(t *testing.T) {
	a, b := patch.NewClientID(), patch.NewClientID()
	if a == b {
		t.Error("client ids must differ")
	}
	if !strings.Contains(a, "-") {
		t.Errorf("expected time prefix and random suffix, got %q", a)
	}
}
