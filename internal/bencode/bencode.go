// Package bencode implements the BEP5 wire format: integers, byte strings,
// lists and dictionaries, with a strict, non-malleable decoder.
//
// Grounded on original_source/src/bittorrent/bencoding.cpp
// (BencodedValueVisitor, destructive_parse_*): dict keys must be in
// strictly ascending lexicographic order or the whole parse is rejected,
// and every parsed value must consume a contiguous prefix of the input.
package bencode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is one decoded or to-be-encoded bencoded value: int64, string,
// []Value or *Dict.
type Value interface{}

// Dict is an ordered string-keyed bencoded dictionary. Encoding always
// emits keys in lexicographic order regardless of insertion order.
type Dict struct {
	keys   []string
	values map[string]Value
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: map[string]Value{}}
}

// Set inserts or overwrites a key.
func (d *Dict) Set(key string, v Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get retrieves a key.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the dict's keys in lexicographic order.
func (d *Dict) Keys() []string {
	out := append([]string(nil), d.keys...)
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.values) }

// Encode serializes a Value to its bencoded form.
func Encode(v Value) (string, error) {
	var sb strings.Builder
	if err := encodeInto(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func encodeInto(sb *strings.Builder, v Value) error {
	switch t := v.(type) {
	case int64:
		sb.WriteByte('i')
		sb.WriteString(strconv.FormatInt(t, 10))
		sb.WriteByte('e')
	case int:
		return encodeInto(sb, int64(t))
	case string:
		sb.WriteString(strconv.Itoa(len(t)))
		sb.WriteByte(':')
		sb.WriteString(t)
	case []byte:
		return encodeInto(sb, string(t))
	case []Value:
		sb.WriteByte('l')
		for _, item := range t {
			if err := encodeInto(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte('e')
	case *Dict:
		sb.WriteByte('d')
		for _, k := range t.Keys() {
			if err := encodeInto(sb, k); err != nil {
				return err
			}
			if err := encodeInto(sb, t.values[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('e')
	default:
		return fmt.Errorf("bencode: unsupported type %T", v)
	}
	return nil
}

// Decode parses exactly one bencoded value from encoded, requiring the
// entire input to be consumed (the top-level caller is expected to slice
// off any trailing bytes itself; DecodePrefix is available when trailing
// bytes are expected, e.g. framed protocol messages).
func Decode(encoded string) (Value, error) {
	v, rest, err := DecodePrefix(encoded)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("bencode: trailing bytes after top-level value")
	}
	return v, nil
}

// DecodePrefix parses one bencoded value from the front of encoded and
// returns it along with the unconsumed remainder.
func DecodePrefix(encoded string) (Value, string, error) {
	if len(encoded) == 0 {
		return nil, encoded, fmt.Errorf("bencode: empty input")
	}

	switch {
	case encoded[0] == 'i':
		rest := encoded[1:]
		n, rest2, err := parseInt(rest)
		if err != nil {
			return nil, encoded, err
		}
		if len(rest2) == 0 || rest2[0] != 'e' {
			return nil, encoded, fmt.Errorf("bencode: unterminated integer")
		}
		return n, rest2[1:], nil

	case encoded[0] >= '0' && encoded[0] <= '9':
		s, rest, err := parseString(encoded)
		if err != nil {
			return nil, encoded, err
		}
		return s, rest, nil

	case encoded[0] == 'l':
		rest := encoded[1:]
		var list []Value
		for len(rest) > 0 && rest[0] != 'e' {
			var v Value
			var err error
			v, rest, err = DecodePrefix(rest)
			if err != nil {
				return nil, encoded, err
			}
			list = append(list, v)
		}
		if len(rest) == 0 {
			return nil, encoded, fmt.Errorf("bencode: unterminated list")
		}
		if list == nil {
			list = []Value{}
		}
		return list, rest[1:], nil

	case encoded[0] == 'd':
		rest := encoded[1:]
		d := NewDict()
		lastKey := ""
		first := true
		for len(rest) > 0 && rest[0] != 'e' {
			key, rest2, err := parseString(rest)
			if err != nil {
				return nil, encoded, err
			}
			if !first && key <= lastKey {
				return nil, encoded, fmt.Errorf("bencode: dict keys not in strictly ascending order")
			}
			first = false
			lastKey = key

			var v Value
			v, rest2, err = DecodePrefix(rest2)
			if err != nil {
				return nil, encoded, err
			}
			d.Set(key, v)
			rest = rest2
		}
		if len(rest) == 0 {
			return nil, encoded, fmt.Errorf("bencode: unterminated dict")
		}
		return d, rest[1:], nil

	default:
		return nil, encoded, fmt.Errorf("bencode: unexpected byte %q", encoded[0])
	}
}

func parseInt(s string) (int64, string, error) {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, s, fmt.Errorf("bencode: expected integer")
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, s, fmt.Errorf("bencode: %w", err)
	}
	return n, s[i:], nil
}

func parseString(s string) (string, string, error) {
	n, rest, err := parseUint(s)
	if err != nil {
		return "", s, err
	}
	if len(rest) == 0 || rest[0] != ':' {
		return "", s, fmt.Errorf("bencode: expected ':' after string length")
	}
	rest = rest[1:]
	if uint64(len(rest)) < n {
		return "", s, fmt.Errorf("bencode: string shorter than declared length")
	}
	return rest[:n], rest[n:], nil
}

func parseUint(s string) (uint64, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, fmt.Errorf("bencode: expected length prefix")
	}
	n, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return 0, s, fmt.Errorf("bencode: %w", err)
	}
	return n, s[i:], nil
}

// MutableSignatureBuffer builds the exact byte sequence BEP-0044 requires
// for signing/verifying a mutable-data item: hand-assembled rather than
// run through the generic map encoder, per original_source's comment that
// verification needs the precise byte sequence
// "4:salt<len>:<salt>3:seqi<seq>e1:v<bencode(value)>" (the salt segment is
// omitted entirely when salt is empty).
func MutableSignatureBuffer(salt []byte, seq int64, value Value) (string, error) {
	encodedValue, err := Encode(value)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if len(salt) > 0 {
		sb.WriteString("4:salt")
		sb.WriteString(strconv.Itoa(len(salt)))
		sb.WriteByte(':')
		sb.Write(salt)
	}
	sb.WriteString("3:seqi")
	sb.WriteString(strconv.FormatInt(seq, 10))
	sb.WriteString("e1:v")
	sb.WriteString(encodedValue)
	return sb.String(), nil
}
