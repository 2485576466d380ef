package protocol

// Field is one key of a rendered client object. Path may be dotted to address
// nested objects ("tls.server_name").
type Field struct {
	Path  string
	Value any
}

// Fields is an ordered set of keys. Emitters keep the order when serializing,
// so generated configs stay stable and diffable.
type Fields []Field

// Set appends path=value.
func (f Fields) Set(path string, value any) Fields {
	return append(f, Field{Path: path, Value: value})
}

// SetIf appends path=value when cond holds.
func (f Fields) SetIf(cond bool, path string, value any) Fields {
	if !cond {
		return f
	}
	return f.Set(path, value)
}

// Get returns the last value stored at path.
func (f Fields) Get(path string) (any, bool) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i].Path == path {
			return f[i].Value, true
		}
	}
	return nil, false
}
