package appmeta

import (
	"github.com/georgepadayatti/gojal/status"
)

// Param is one name/value pair of a structured data group.
type Param struct {
	Name  string
	Value string
}

// GroupID is a stable handle to a group within one StructuredDataList.
type GroupID int

// NoGroup is the handle returned alongside errors.
const NoGroup GroupID = -1

type sdGroup struct {
	sdID   string
	params []Param
	next   GroupID
}

// Group is a read-only view of a structured data group.
type Group struct {
	ID     GroupID
	SDID   string
	Params []Param
}

// StructuredDataList is an ordered list of structured data groups. The list
// owns every group and parameter added to it; handles stay valid until
// Destroy.
type StructuredDataList struct {
	arena     []sdGroup
	head      GroupID
	tail      GroupID
	destroyed bool
}

// NewStructuredDataList returns an empty list.
func NewStructuredDataList() *StructuredDataList {
	return &StructuredDataList{head: NoGroup, tail: NoGroup}
}

func (l *StructuredDataList) valid(id GroupID) bool {
	return !l.destroyed && id >= 0 && int(id) < len(l.arena)
}

func (l *StructuredDataList) alloc(sdID string) (GroupID, error) {
	if l.destroyed {
		return NoGroup, status.New(status.InvalidArgument, "appmeta.StructuredDataList", "list has been destroyed")
	}
	if sdID == "" {
		return NoGroup, status.New(status.InvalidArgument, "appmeta.StructuredDataList", "empty SD-ID")
	}
	l.arena = append(l.arena, sdGroup{sdID: sdID, next: NoGroup})
	return GroupID(len(l.arena) - 1), nil
}

// Append adds a group with sdID at the end of the list.
func (l *StructuredDataList) Append(sdID string) (GroupID, error) {
	id, err := l.alloc(sdID)
	if err != nil {
		return NoGroup, err
	}
	if l.tail == NoGroup {
		l.head = id
	} else {
		l.arena[l.tail].next = id
	}
	l.tail = id
	return id, nil
}

// InsertAfter splices a new group with sdID directly after prev. Groups
// that followed prev follow the new group.
func (l *StructuredDataList) InsertAfter(prev GroupID, sdID string) (GroupID, error) {
	if !l.destroyed && !l.valid(prev) {
		return NoGroup, status.New(status.InvalidArgument, "appmeta.InsertAfter", "unknown group %d", prev)
	}
	id, err := l.alloc(sdID)
	if err != nil {
		return NoGroup, err
	}
	l.arena[id].next = l.arena[prev].next
	l.arena[prev].next = id
	if l.tail == prev {
		l.tail = id
	}
	return id, nil
}

// AddParam appends a parameter to the group.
func (l *StructuredDataList) AddParam(id GroupID, name, value string) error {
	if !l.valid(id) {
		return status.New(status.InvalidArgument, "appmeta.AddParam", "unknown group %d", id)
	}
	if name == "" {
		return status.New(status.InvalidArgument, "appmeta.AddParam", "empty parameter name")
	}
	l.arena[id].params = append(l.arena[id].params, Param{Name: name, Value: value})
	return nil
}

// Params returns a copy of the group's parameters in insertion order.
func (l *StructuredDataList) Params(id GroupID) []Param {
	if !l.valid(id) {
		return nil
	}
	return append([]Param(nil), l.arena[id].params...)
}

// Groups returns the groups in list order.
func (l *StructuredDataList) Groups() []Group {
	if l == nil || l.destroyed {
		return nil
	}
	var out []Group
	for id := l.head; id != NoGroup; id = l.arena[id].next {
		g := l.arena[id]
		out = append(out, Group{ID: id, SDID: g.sdID, Params: append([]Param(nil), g.params...)})
	}
	return out
}

// Len returns the number of groups in the list.
func (l *StructuredDataList) Len() int {
	if l == nil || l.destroyed {
		return 0
	}
	return len(l.arena)
}

// Destroy releases every group and parameter. Further calls do nothing and
// the list rejects new groups.
func (l *StructuredDataList) Destroy() {
	if l == nil || l.destroyed {
		return
	}
	l.arena = nil
	l.head, l.tail = NoGroup, NoGroup
	l.destroyed = true
}
