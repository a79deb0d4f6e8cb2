package cache

import (
	"encoding/json"
	"sort"
	"strings"
)

// SerializeFieldKey builds the field-key form of a field name plus its
// (already-coerced) arguments: "<fieldName>" when there are no arguments
// that affect identity, or "<fieldName>(<sortedArgsJSON>)" otherwise. Two
// selections on the same object with differing arguments occupy different
// field keys.
func SerializeFieldKey(fieldName string, args map[string]any) FieldKey {
	if len(args) == 0 {
		return FieldKey(fieldName)
	}
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(fieldName)
	b.WriteByte('(')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte(':')
		encoded, err := json.Marshal(args[name])
		if err != nil {
			// Arguments are already-coerced Go values (scalars, lists,
			// maps); Marshal only fails on cyclic or unsupported types,
			// which would be a programming error upstream.
			encoded = []byte("null")
		}
		b.Write(encoded)
	}
	b.WriteByte(')')
	return FieldKey(b.String())
}

// PathKey derives a non-root CacheKey from the response path when no
// CacheKeyForObject function is supplied, or it returns nothing for a given
// node: "<parent>.<responseKey>" or "<parent>.<index>".
func PathKey(parent CacheKey, elem any) CacheKey {
	switch v := elem.(type) {
	case string:
		return CacheKey(string(parent) + "." + v)
	case int:
		return CacheKey(string(parent) + "." + itoa(v))
	default:
		return parent
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
