package osm

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestElementPosition(t *testing.T) {
	node := NewNode(1, orb.Point{10, 59})
	p, centroid, ok := node.Position()
	if !ok || centroid || p != (orb.Point{10, 59}) {
		t.Errorf("node Position() = %v, %v, %v", p, centroid, ok)
	}

	c := orb.Point{10.5, 59.5}
	way := &Element{Type: WayType, ID: 2, Center: &c}
	p, centroid, ok = way.Position()
	if !ok || !centroid || p != c {
		t.Errorf("way Position() = %v, %v, %v", p, centroid, ok)
	}

	if _, _, ok := (&Element{Type: RelationType, ID: 3}).Position(); ok {
		t.Error("expected no position for relation without bounds")
	}
}

func TestElementCloneIsDeep(t *testing.T) {
	orig := &Element{
		Type:     WayType,
		ID:       7,
		Location: &orb.Point{1, 2},
		Nodes:    []int64{1, 2, 3},
		Members:  []Member{{Type: NodeType, Ref: 1, Role: "stop"}},
		Tags:     map[string]string{"name": "Sentrum"},
		Meta:     &Meta{Version: 3, User: "alice"},
	}

	c := orig.Clone()
	c.Tags["name"] = "Torget"
	c.Nodes[0] = 99
	c.Members[0].Role = "platform"
	c.Meta.User = "bob"
	c.Location[0] = 5

	if orig.Tags["name"] != "Sentrum" {
		t.Error("clone shares tags with original")
	}
	if orig.Nodes[0] != 1 {
		t.Error("clone shares node list with original")
	}
	if orig.Members[0].Role != "stop" {
		t.Error("clone shares members with original")
	}
	if orig.Meta.User != "alice" {
		t.Error("clone shares meta with original")
	}
	if orig.Location[0] != 1 {
		t.Error("clone shares location with original")
	}
}

func TestElementEditDate(t *testing.T) {
	e := &Element{Meta: &Meta{Timestamp: time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)}}
	if got := e.EditDate(); got != "2024-03-09" {
		t.Errorf("EditDate() = %q", got)
	}
	if got := (&Element{}).EditDate(); got != "" {
		t.Errorf("EditDate() without meta = %q", got)
	}
}

func TestIsBookkeeping(t *testing.T) {
	tests := map[string]bool{
		"DELETE":          true,
		"NSR_NAME":        true,
		"ROUTE_LAST_USED": true,
		"NSRNOTE":         true,
		"FIXME":           false,
		"NOTE":            false,
		"name":            false,
		"ref:nsrq":        false,
		"Name":            false,
		"123":             false,
	}
	for key, want := range tests {
		if got := IsBookkeeping(key); got != want {
			t.Errorf("IsBookkeeping(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestSortElements(t *testing.T) {
	elements := []*Element{
		{Type: RelationType, ID: 1},
		{Type: NodeType, ID: 5},
		{Type: WayType, ID: 2},
		{Type: NodeType, ID: -1000},
		{Type: NodeType, ID: 3},
	}
	SortElements(elements)

	want := []Key{
		{NodeType, -1000}, {NodeType, 3}, {NodeType, 5}, {WayType, 2}, {RelationType, 1},
	}
	for i, e := range elements {
		if e.Key() != want[i] {
			t.Errorf("position %d = %v, want %v", i, e.Key(), want[i])
		}
	}
}

func TestActionString(t *testing.T) {
	tests := map[Action]string{
		ActionNone:     "none",
		ActionCreate:   "create",
		ActionModify:   "modify",
		ActionRelocate: "relocate",
		ActionDelete:   "delete",
		Action(42):     "action(42)",
	}
	for a, want := range tests {
		if got := a.String(); got != want {
			t.Errorf("Action(%d).String() = %q, want %q", int(a), got, want)
		}
	}
}
