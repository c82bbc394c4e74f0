// Package stream provides the vocabulary of the stream collection and the
// helpers to move between the nested tree and the flat stored form.
package stream

import (
	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Stream fields.
const (
	FieldName       = "name"
	FieldParentID   = "parentId"
	FieldChildren   = "children"
	FieldClientData = "clientData"
	FieldCreated    = "created"
	FieldCreatedBy  = "createdBy"
	FieldModified   = "modified"
	FieldModifiedBy = "modifiedBy"
)

// Flatten turns nested streams into a parent-first list in which every
// stream carries its parentId and no children.
func Flatten(tree []storage.Document) []storage.Document {
	var out []storage.Document
	var walk func(nodes []storage.Document, parent any)
	walk = func(nodes []storage.Document, parent any) {
		for _, n := range nodes {
			flat := n.Clone()
			delete(flat, FieldChildren)
			if parent != nil || !flat.Has(FieldParentID) {
				flat[FieldParentID] = parent
			}
			out = append(out, flat)
			walk(Children(n), flat[storage.FieldID])
		}
	}
	walk(tree, nil)
	return out
}

// Children returns the nested children of a stream.
func Children(d storage.Document) []storage.Document {
	switch v := d[FieldChildren].(type) {
	case []storage.Document:
		return v
	case []any:
		out := make([]storage.Document, 0, len(v))
		for _, c := range v {
			switch m := c.(type) {
			case storage.Document:
				out = append(out, m)
			case map[string]any:
				out = append(out, storage.Document(m))
			}
		}
		return out
	default:
		return nil
	}
}

// Build nests a flat list of streams into a tree. Order among siblings
// follows the input order. Streams whose parent is not in the list become
// roots.
func Build(flat []storage.Document) []storage.Document {
	byID := make(map[string]storage.Document, len(flat))
	for _, s := range flat {
		node := s.Clone()
		node[FieldChildren] = []any{}
		byID[node.String(storage.FieldID)] = node
	}

	roots := make([]storage.Document, 0)
	for _, s := range flat {
		node := byID[s.String(storage.FieldID)]
		parent, ok := byID[s.String(FieldParentID)]
		if !ok || s.IsNull(FieldParentID) {
			roots = append(roots, node)
			continue
		}
		parent[FieldChildren] = append(parent[FieldChildren].([]any), map[string]any(node))
	}
	return roots
}

// Find locates a stream by id anywhere in a tree.
func Find(tree []storage.Document, id string) (storage.Document, bool) {
	for _, n := range tree {
		if n.String(storage.FieldID) == id {
			return n, true
		}
		if found, ok := Find(Children(n), id); ok {
			return found, true
		}
	}
	return nil, false
}

// Descendants returns id followed by the ids of every stream below it. An
// id absent from the tree expands to itself.
func Descendants(tree []storage.Document, id string) []string {
	root, ok := Find(tree, id)
	if !ok {
		return []string{id}
	}
	out := []string{id}
	var walk func(nodes []storage.Document)
	walk = func(nodes []storage.Document) {
		for _, n := range nodes {
			out = append(out, n.String(storage.FieldID))
			walk(Children(n))
		}
	}
	walk(Children(root))
	return out
}

// IDs lists every stream id of a tree, parents first.
func IDs(tree []storage.Document) []string {
	flat := Flatten(tree)
	out := make([]string, 0, len(flat))
	for _, s := range flat {
		out = append(out, s.String(storage.FieldID))
	}
	return out
}
