package models

import (
	"errors"
	"strings"
)

// Path is an ordered sequence of segments locating a node in the collection
// tree, e.g. Root → group → track. Treat it as immutable: helpers that
// derive a new path always copy.
type Path []string

// RootPath is the top of the collection tree.
var RootPath = Path{"Root"}

// Key is the canonical encoding of a Path. Two keys are equal iff the paths
// they encode are equal, so a Key can be used directly as a map key or
// compared against the key carried by a change notification.
//
// Encoding: the empty path is the empty key. Every segment is written as
// '/' followed by the segment with '\' escaped as `\\` and '/' as `\/`.
// ["Root","A"] is "/Root/A", [""] is "/", ["a/b"] is `/a\/b`.
type Key string

// ErrInvalidKey is returned by ParseKey for strings that no Path encodes to.
var ErrInvalidKey = errors.New("invalid path key")

// Key returns the canonical key for p.
func (p Path) Key() Key {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for _, seg := range p {
		b.WriteByte('/')
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if c == '/' || c == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		}
	}
	return Key(b.String())
}

// String returns the key form of the path, which is also readable.
func (p Path) String() string { return string(p.Key()) }

// Equal reports whether p and q have the same segments.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of p that shares no memory with it.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	cp := make(Path, len(p))
	copy(cp, p)
	return cp
}

// Append returns a new path with segs added to the end of p.
func (p Path) Append(segs ...string) Path {
	cp := make(Path, 0, len(p)+len(segs))
	cp = append(cp, p...)
	return append(cp, segs...)
}

// Parent returns the path without its last segment. The parent of the
// empty path is the empty path.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p[:len(p)-1].Clone()
}

// ParseKey decodes a key produced by Path.Key.
func ParseKey(k Key) (Path, error) {
	s := string(k)
	if s == "" {
		return Path{}, nil
	}
	if s[0] != '/' {
		return nil, ErrInvalidKey
	}

	var (
		p   Path
		seg strings.Builder
	)
	for i := 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			i++
			if i >= len(s) || (s[i] != '\\' && s[i] != '/') {
				return nil, ErrInvalidKey
			}
			seg.WriteByte(s[i])
		case '/':
			p = append(p, seg.String())
			seg.Reset()
		default:
			seg.WriteByte(c)
		}
	}
	return append(p, seg.String()), nil
}
