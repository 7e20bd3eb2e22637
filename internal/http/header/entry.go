package header

// Entry is a single stored header. Name and value live in one buffer as
// "name: value"; keyLen marks where the name ends.
type Entry struct {
	keyLen int
	data   []byte
}

func newEntry(name, value string) *Entry {
	e := &Entry{}
	e.set(name, value)
	return e
}

func (e *Entry) set(name, value string) {
	if name == "" {
		panic("header: empty header name")
	}
	if cap(e.data) < len(name)+2+len(value) {
		e.data = make([]byte, 0, len(name)+2+len(value))
	}
	e.data = append(e.data[:0], name...)
	e.data = append(e.data, ':', ' ')
	e.data = append(e.data, value...)
	e.keyLen = len(name)
}

func (e *Entry) appendValue(value string) {
	e.data = append(e.data, ',', ' ')
	e.data = append(e.data, value...)
}

func (e *Entry) Key() string {
	return string(e.data[:e.keyLen])
}

func (e *Entry) Value() string {
	return string(e.value())
}

func (e *Entry) value() []byte {
	return e.data[e.keyLen+2:]
}

// Bytes returns the combined "name: value" buffer. It is owned by the
// collection and must not be modified or retained across mutations.
func (e *Entry) Bytes() []byte {
	return e.data
}

func (e *Entry) String() string {
	return string(e.data)
}

func (e *Entry) matches(name string) bool {
	return e.keyLen == len(name) && equalFold(e.data[:e.keyLen], name)
}

// equalFold reports whether b and s are equal under ASCII case folding.
// Header names are tokens; non-ASCII bytes must match exactly.
func equalFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if lower(b[i]) != lower(s[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
