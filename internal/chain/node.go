// File: internal/chain/node.go

// Package chain correlates individual intercepted runtime operations into
// ordered, severity-scored attack chains.
//
// The Detector consumes one function call at a time, consults a taint store to
// see whether the call's input was produced by an earlier suspicious operation,
// and either extends an in-flight chain, starts a new one, or completes one when
// tainted data reaches an execution sink such as eval.
package chain

import (
	"fmt"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
)

// TypeTag names the shape of the value held by a DataNode.
type TypeTag string

const (
	TypeString  TypeTag = "STRING"
	TypeArray   TypeTag = "ARRAY"
	TypeNumber  TypeTag = "NUMBER"
	TypeBoolean TypeTag = "BOOLEAN"
	TypeObject  TypeTag = "OBJECT"
	TypeAny     TypeTag = "ANY"
	TypeUnknown TypeTag = "UNKNOWN"
)

// TypeOf maps the active variant of v to a tag. Undefined is UNKNOWN.
func TypeOf(v *jsvalue.Value) TypeTag {
	switch v.Kind() {
	case jsvalue.KindString:
		return TypeString
	case jsvalue.KindArray:
		return TypeArray
	case jsvalue.KindNumber:
		return TypeNumber
	case jsvalue.KindBool:
		return TypeBoolean
	case jsvalue.KindObject:
		return TypeObject
	default:
		return TypeUnknown
	}
}

// DataNode is a provenance-linked snapshot of one input or output slot of a
// step. ParentID points at the node the value was derived from; empty means
// the node is a root.
type DataNode struct {
	DataID   string         `json:"dataId"`
	Value    *jsvalue.Value `json:"value"`
	Type     TypeTag        `json:"type"`
	ParentID string         `json:"parentId"`
	Metadata *jsvalue.Map   `json:"metadata"`
}

// NewDataNode builds a node with empty metadata.
func NewDataNode(id string, value *jsvalue.Value, typ TypeTag, parentID string) DataNode {
	return DataNode{
		DataID:   id,
		Value:    value,
		Type:     typ,
		ParentID: parentID,
		Metadata: jsvalue.NewMap(),
	}
}

// IsRoot reports whether the node has no parent.
func (n DataNode) IsRoot() bool { return n.ParentID == "" }

func (n DataNode) String() string {
	return fmt.Sprintf("DataNode(id=%s, type=%s, parent=%s, value=%s)", n.DataID, n.Type, n.ParentID, n.Value)
}
