// Package header implements the ordered, duplicate-permitting header
// store shared by the request pipeline.
//
// Names compare case-insensitively (ASCII only) and always over their
// full length. Insertion order is kept and matters: Lookup, Append and
// Overwrite address the most recent occurrence of a name.
//
// A Headers value is reference counted. The count is the only field that
// may be touched from several goroutines; everything else belongs to the
// goroutine that holds a reference for mutation.
package header

import (
	"bytes"
	"iter"
	"sync/atomic"

	list "github.com/bahlo/generic-list-go"
)

type Headers struct {
	refs    atomic.Int32
	entries *list.List[*Entry]
}

// Cursor points at one entry of a collection. The zero Cursor means
// "not found".
type Cursor struct {
	elem *list.Element[*Entry]
}

func (c Cursor) Valid() bool {
	return c.elem != nil
}

func (c Cursor) Entry() *Entry {
	if c.elem == nil {
		return nil
	}
	return c.elem.Value
}

func New() *Headers {
	h := &Headers{entries: list.New[*Entry]()}
	h.refs.Store(1)
	return h
}

func (h *Headers) mustBeLive() {
	if h.refs.Load() <= 0 {
		panic("header: use of released header collection")
	}
}

func (h *Headers) Acquire() {
	h.mustBeLive()
	h.refs.Add(1)
}

// Release drops one reference; the last one frees every entry.
func Release(h *Headers) {
	if h == nil {
		return
	}
	h.mustBeLive()
	if h.refs.Add(-1) == 0 {
		h.entries.Init()
	}
}

// TryReset gives up the caller's reference and returns an empty
// collection for the next request. A sole owner gets h back, cleared;
// otherwise h is left to its other holders and a new collection is
// returned.
func (h *Headers) TryReset() *Headers {
	h.mustBeLive()
	if h.refs.Add(-1) == 0 {
		h.entries.Init()
		h.refs.Store(1)
		return h
	}
	return New()
}

func (h *Headers) Refs() int32 {
	return h.refs.Load()
}

func (h *Headers) Len() int {
	return h.entries.Len()
}

// Insert adds name: value at the tail. Duplicates accumulate.
func (h *Headers) Insert(name, value string) {
	h.entries.PushBack(newEntry(name, value))
}

func (h *Headers) FindFirst(name string) Cursor {
	for e := h.entries.Front(); e != nil; e = e.Next() {
		if e.Value.matches(name) {
			return Cursor{elem: e}
		}
	}
	return Cursor{}
}

func (h *Headers) FindNext(c Cursor, name string) Cursor {
	if c.elem == nil {
		return Cursor{}
	}
	for e := c.elem.Next(); e != nil; e = e.Next() {
		if e.Value.matches(name) {
			return Cursor{elem: e}
		}
	}
	return Cursor{}
}

func (h *Headers) FindLast(name string) Cursor {
	for e := h.entries.Back(); e != nil; e = e.Prev() {
		if e.Value.matches(name) {
			return Cursor{elem: e}
		}
	}
	return Cursor{}
}

// Append joins value onto the last occurrence of name with ", ", or
// inserts it when name is absent.
func (h *Headers) Append(name, value string) {
	c := h.FindLast(name)
	if !c.Valid() {
		h.Insert(name, value)
		return
	}
	c.elem.Value.appendValue(value)
}

// Overwrite replaces the last occurrence of name, or inserts it when
// absent. Earlier duplicates are left in place.
func (h *Headers) Overwrite(name, value string) {
	c := h.FindLast(name)
	if !c.Valid() {
		h.Insert(name, value)
		return
	}
	c.elem.Value.set(name, value)
}

func (h *Headers) RemoveAt(c Cursor) {
	if c.elem == nil {
		return
	}
	h.entries.Remove(c.elem)
}

// Remove deletes every occurrence of name.
func (h *Headers) Remove(name string) bool {
	var held Cursor
	removed := false

	// Removing a node detaches it from its neighbours, so the scan stays
	// one match ahead of the deletion.
	for c := h.FindFirst(name); c.Valid(); c = h.FindNext(c, name) {
		if held.Valid() {
			h.RemoveAt(held)
			removed = true
		}
		held = c
	}
	if held.Valid() {
		h.RemoveAt(held)
		removed = true
	}
	return removed
}

// Lookup returns the most recent occurrence of name, or nil.
func (h *Headers) Lookup(name string) *Entry {
	return h.FindLast(name).Entry()
}

// Is reports whether any occurrence of name has exactly value, compared
// case-insensitively.
func (h *Headers) Is(name, value string) bool {
	for c := h.FindFirst(name); c.Valid(); c = h.FindNext(c, name) {
		if equalFold(c.elem.Value.value(), value) {
			return true
		}
	}
	return false
}

// HasToken reports whether token appears in the comma separated value
// list of any occurrence of name.
func (h *Headers) HasToken(name, token string) bool {
	for c := h.FindFirst(name); c.Valid(); c = h.FindNext(c, name) {
		v := c.elem.Value.value()
		for len(v) > 0 {
			var item []byte
			if i := bytes.IndexByte(v, ','); i >= 0 {
				item, v = v[:i], v[i+1:]
			} else {
				item, v = v, nil
			}
			if equalFold(bytes.Trim(item, " \t"), token) {
				return true
			}
		}
	}
	return false
}

// GetCombined truncates dst and appends the values of every occurrence
// of name, in insertion order, separated by ", ".
func (h *Headers) GetCombined(dst []byte, name string) []byte {
	dst = dst[:0]
	for c := h.FindFirst(name); c.Valid(); c = h.FindNext(c, name) {
		if len(dst) > 0 {
			dst = append(dst, ',', ' ')
		}
		dst = append(dst, c.elem.Value.value()...)
	}
	return dst
}

func (h *Headers) All() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for e := h.entries.Front(); e != nil; e = e.Next() {
			if !yield(e.Value) {
				return
			}
		}
	}
}

// AppendWire appends every entry as a "name: value\r\n" line.
func (h *Headers) AppendWire(dst []byte) []byte {
	for e := h.entries.Front(); e != nil; e = e.Next() {
		dst = append(dst, e.Value.data...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}
