package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"
)

// KeyEncoding selects how selected arguments are encoded into a derived key.
type KeyEncoding int

const (
	// KeyEncodingJSON appends the canonical JSON of each argument.
	KeyEncodingJSON KeyEncoding = iota

	// KeyEncodingHash appends the first 16 hex characters of the SHA-256 of
	// each argument's canonical JSON. Keys stay short for large arguments.
	KeyEncodingHash
)

// String returns the configuration name of the encoding.
func (e KeyEncoding) String() string {
	switch e {
	case KeyEncodingHash:
		return "hash"
	default:
		return "json"
	}
}

// ParseKeyEncoding parses "json" or "hash". Empty means json.
func ParseKeyEncoding(s string) (KeyEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return KeyEncodingJSON, nil
	case "hash":
		return KeyEncodingHash, nil
	default:
		return KeyEncodingJSON, fmt.Errorf("cache: unknown key encoding %q", s)
	}
}

// Keyer derives storage keys from a base key and selected call arguments.
//
// Contract:
// - Determinism: structurally equal arguments produce the same key,
// regardless of map iteration order or value identity.
// - Concurrency: safe for concurrent use.
type Keyer struct {
	encoding KeyEncoding
}

// NewKeyer creates a keyer with the given encoding.
func NewKeyer(encoding KeyEncoding) *Keyer {
	return &Keyer{encoding: encoding}
}

// DeriveKey derives a key with the default JSON encoding.
func DeriveKey(base string, args []any, positions []int) (string, error) {
	return NewKeyer(KeyEncodingJSON).Derive(base, args, positions)
}

// Derive returns base when positions is empty. Otherwise it appends
// ":" + encoding(args[p]) for every position p, in the given order.
func (k *Keyer) Derive(base string, args []any, positions []int) (string, error) {
	if len(positions) == 0 {
		return base, nil
	}

	var b strings.Builder
	b.WriteString(base)
	for _, pos := range positions {
		if pos < 0 || pos >= len(args) {
			return "", usageErr(base, fmt.Sprintf("argument position %d out of range (%d arguments)", pos, len(args)))
		}
		segment, err := k.encode(args[pos])
		if err != nil {
			return "", &UsageError{Key: base, Reason: fmt.Sprintf("argument %d cannot be encoded", pos), Err: err}
		}
		b.WriteByte(':')
		b.WriteString(segment)
	}
	return b.String(), nil
}

func (k *Keyer) encode(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	if k.encoding == KeyEncodingHash {
		sum := sha256.Sum256(canonical)
		return hex.EncodeToString(sum[:8]), nil
	}
	return string(canonical), nil
}

// Canonicalize produces a deterministic JSON representation of v.
// The value is first normalized through JSON so that structs, maps and
// pointers with equal content encode identically; object keys are then
// emitted in sorted order at every depth.
//
// Values JSON would encode lossily are rejected with ErrAmbiguousArgument:
// strings or map keys holding invalid UTF-8 (replaced by U+FFFD) and byte
// slices (base64, equal to the string of their encoding). Types with their
// own json.Marshaler or encoding.TextMarshaler are trusted as is.
func Canonicalize(v any) ([]byte, error) {
	if err := checkUnambiguous(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return canonicalize(tree)
}

func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}

// maxArgumentDepth bounds the walk; cyclic values fail here before
// json.Marshal would report them.
const maxArgumentDepth = 1000

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func marshalsItself(v reflect.Value) bool {
	t := v.Type()
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		return true
	}
	if v.CanAddr() {
		pt := reflect.PointerTo(t)
		return pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}

func checkUnambiguous(v reflect.Value, depth int) error {
	if !v.IsValid() {
		return nil
	}
	if depth > maxArgumentDepth {
		return fmt.Errorf("%w: nested deeper than %d levels", ErrAmbiguousArgument, maxArgumentDepth)
	}
	if marshalsItself(v) {
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%w: string is not valid UTF-8", ErrAmbiguousArgument)
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkUnambiguous(v.Elem(), depth+1)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Errorf("%w: byte slice %s, convert it to a string", ErrAmbiguousArgument, v.Type())
		}
		return checkElems(v, depth)
	case reflect.Array:
		return checkElems(v, depth)
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUnambiguous(iter.Key(), depth+1); err != nil {
				return err
			}
			if err := checkUnambiguous(iter.Value(), depth+1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if (!f.IsExported() && !f.Anonymous) || f.Tag.Get("json") == "-" {
				continue
			}
			if err := checkUnambiguous(v.Field(i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkElems(v reflect.Value, depth int) error {
	for i := range v.Len() {
		if err := checkUnambiguous(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}
