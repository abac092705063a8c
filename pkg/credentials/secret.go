package credentials

import "sort"

// Secret holds decrypted fields of one service. Wipe zeroes the buffers; it is
// safe to call more than once.
type Secret struct {
	service string
	fields  map[string][]byte
}

func NewSecret(service string, fields map[string]string) *Secret {
	s := &Secret{service: service, fields: make(map[string][]byte, len(fields))}
	for k, v := range fields {
		s.fields[k] = []byte(v)
	}

	return s
}

func (s *Secret) Service() string {
	return s.service
}

// Field returns a string copy of the field. Wipe does not reach the copy;
// callers drop it as soon as the value was used.
func (s *Secret) Field(name string) (string, bool) {
	v, ok := s.fields[name]
	if !ok {
		return "", false
	}

	return string(v), true
}

// FieldNames lists field names, never values.
func (s *Secret) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for k := range s.fields {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

func (s *Secret) Wipe() {
	for k, v := range s.fields {
		clear(v)
		delete(s.fields, k)
	}
}
