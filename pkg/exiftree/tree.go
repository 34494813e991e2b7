package exiftree

import "encoding/json"

// Tree is the outcome of EXIF extraction: either Absent (no metadata block,
// or one that could not be read) or a present root Value. Absent is distinct
// from a present empty map.
type Tree struct {
	present bool
	root    Value
}

func Absent() Tree { return Tree{} }

func Present(root Value) Tree { return Tree{present: true, root: root} }

func (t Tree) IsAbsent() bool { return !t.present }

// Root returns the root value and whether the tree is present.
func (t Tree) Root() (Value, bool) { return t.root, t.present }

func (t Tree) MarshalJSON() ([]byte, error) {
	if !t.present {
		return []byte("null"), nil
	}
	return json.Marshal(t.root)
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Absent()
		return nil
	}
	var root Value
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	*t = Present(root)
	return nil
}
