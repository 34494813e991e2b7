package exifnorm

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"

	"github.com/tendant/simple-image-forensics/pkg/exiftree"
)

// Fraction is implemented by rational tag values.
type Fraction interface {
	Fraction() (num, den int64)
}

// Rational is a numerator/denominator pair read from a RATIONAL or
// SRATIONAL tag.
type Rational struct {
	Num int64
	Den int64
}

func (r Rational) Fraction() (int64, int64) { return r.Num, r.Den }

// Float returns Num/Den. A zero denominator yields NaN.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return math.NaN()
	}
	return float64(r.Num) / float64(r.Den)
}

// Sanitize converts a raw decoded value into the JSON-safe tree grammar.
// Rationals become floats (null for a zero denominator), byte slices become
// standard base64 text, maps and sequences are converted element by
// element, and anything else is rendered with fmt. Nesting depth is
// unbounded; a container that reaches itself again becomes null at the
// point of re-entry.
func Sanitize(v any) exiftree.Value {
	s := &sanitizer{active: map[ref]bool{}}
	return s.sanitize(v)
}

// ref identifies a container on the current descent path.
type ref struct {
	kind reflect.Kind
	ptr  uintptr
	n    int
}

type sanitizer struct {
	active map[ref]bool
}

// enter marks rv as being converted. It reports false when rv is already on
// the path, i.e. the value is cyclic.
func (s *sanitizer) enter(rv reflect.Value) (ref, bool) {
	r := ref{kind: rv.Kind(), ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		r.n = rv.Len()
	}
	if r.ptr == 0 {
		return r, true
	}
	if s.active[r] {
		return r, false
	}
	s.active[r] = true
	return r, true
}

func (s *sanitizer) leave(r ref) {
	delete(s.active, r)
}

func (s *sanitizer) sanitize(v any) exiftree.Value {
	switch t := v.(type) {
	case nil:
		return exiftree.Null()
	case exiftree.Value:
		return t
	case Fraction:
		num, den := t.Fraction()
		if den == 0 {
			return exiftree.Null()
		}
		return exiftree.Float(float64(num) / float64(den))
	case []byte:
		return exiftree.String(base64.StdEncoding.EncodeToString(t))
	case string:
		return exiftree.String(t)
	case bool:
		return exiftree.Bool(t)
	case int:
		return exiftree.Int(int64(t))
	case int8:
		return exiftree.Int(int64(t))
	case int16:
		return exiftree.Int(int64(t))
	case int32:
		return exiftree.Int(int64(t))
	case int64:
		return exiftree.Int(t)
	case uint8:
		return exiftree.Int(int64(t))
	case uint16:
		return exiftree.Int(int64(t))
	case uint32:
		return exiftree.Int(int64(t))
	case uint:
		return fromUint(uint64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return exiftree.Float(float64(t))
	case float64:
		return exiftree.Float(t)
	}

	return s.sanitizeReflect(v)
}

func (s *sanitizer) sanitizeReflect(v any) exiftree.Value {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return exiftree.Null()
		}
		r, ok := s.enter(rv)
		if !ok {
			return exiftree.Null()
		}
		defer s.leave(r)
		return s.sanitize(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			return exiftree.Null()
		}
		return s.sanitize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return exiftree.List()
			}
			r, ok := s.enter(rv)
			if !ok {
				return exiftree.Null()
			}
			defer s.leave(r)
		}
		items := make([]exiftree.Value, rv.Len())
		for i := range items {
			items[i] = s.sanitize(rv.Index(i).Interface())
		}
		return exiftree.List(items...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		r, ok := s.enter(rv)
		if !ok {
			return exiftree.Null()
		}
		defer s.leave(r)
		out := make(map[string]exiftree.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = s.sanitize(iter.Value().Interface())
		}
		return exiftree.Map(out)
	}
	return exiftree.String(fmt.Sprint(v))
}

func fromUint(u uint64) exiftree.Value {
	if u > math.MaxInt64 {
		return exiftree.Float(float64(u))
	}
	return exiftree.Int(int64(u))
}
