package ot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrOutOfBounds      = errors.New("operation exceeds content bounds")
	ErrInvalidComponent = errors.New("invalid component")
)

type Kind int

const (
	KindNone Kind = iota
	KindRetain
	KindInsert
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindRetain:
		return "retain"
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	default:
		return "none"
	}
}

// Component is one step of an Operation. Exactly one field is set on a valid
// component; the zero value has zero length and is dropped by Normalize.
type Component struct {
	Retain int    `json:"retain,omitempty" cbor:"retain,omitempty"`
	Insert string `json:"insert,omitempty" cbor:"insert,omitempty"`
	Delete int    `json:"delete,omitempty" cbor:"delete,omitempty"`
}

func Retain(n int) Component    { return Component{Retain: n} }
func Insert(s string) Component { return Component{Insert: s} }
func Delete(n int) Component    { return Component{Delete: n} }

func (c Component) Kind() Kind {
	switch {
	case c.Insert != "":
		return KindInsert
	case c.Delete > 0:
		return KindDelete
	case c.Retain > 0:
		return KindRetain
	default:
		return KindNone
	}
}

// Len is measured in runes.
func (c Component) Len() int {
	switch c.Kind() {
	case KindInsert:
		return utf8.RuneCountInString(c.Insert)
	case KindDelete:
		return c.Delete
	case KindRetain:
		return c.Retain
	default:
		return 0
	}
}

func (c Component) Validate() error {
	if c.Retain < 0 || c.Delete < 0 {
		return fmt.Errorf("%w: negative length", ErrInvalidComponent)
	}
	set := 0
	if c.Retain != 0 {
		set++
	}
	if c.Insert != "" {
		set++
	}
	if c.Delete != 0 {
		set++
	}
	if set > 1 {
		return fmt.Errorf("%w: more than one of retain, insert, delete", ErrInvalidComponent)
	}
	if c.Insert != "" && !utf8.ValidString(c.Insert) {
		return fmt.Errorf("%w: insert is not valid utf-8", ErrInvalidComponent)
	}
	return nil
}

func (c Component) String() string {
	switch c.Kind() {
	case KindInsert:
		return fmt.Sprintf("+%q", c.Insert)
	case KindDelete:
		return fmt.Sprintf("-%d", c.Delete)
	case KindRetain:
		return fmt.Sprintf("=%d", c.Retain)
	default:
		return "0"
	}
}

// Operation is an ordered list of components. Content beyond the last
// component is retained implicitly when applied.
type Operation []Component

func (op Operation) Validate() error {
	for i, c := range op {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}

// BaseLen is the number of runes the operation reads from its input.
func (op Operation) BaseLen() int {
	n := 0
	for _, c := range op {
		if k := c.Kind(); k == KindRetain || k == KindDelete {
			n += c.Len()
		}
	}
	return n
}

// TargetLen is the number of runes the explicit components produce.
func (op Operation) TargetLen() int {
	n := 0
	for _, c := range op {
		if k := c.Kind(); k == KindRetain || k == KindInsert {
			n += c.Len()
		}
	}
	return n
}

func (op Operation) String() string {
	parts := make([]string, len(op))
	for i, c := range op {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Normalize merges adjacent components of the same kind and drops
// zero-length ones. The input is not modified.
func Normalize(op Operation) Operation {
	out := make(Operation, 0, len(op))
	for _, c := range op {
		out = appendComponent(out, c)
	}
	return out
}

func appendComponent(op Operation, c Component) Operation {
	k := c.Kind()
	if k == KindNone {
		return op
	}
	if n := len(op); n > 0 && op[n-1].Kind() == k {
		last := &op[n-1]
		switch k {
		case KindRetain:
			last.Retain += c.Retain
		case KindInsert:
			last.Insert += c.Insert
		case KindDelete:
			last.Delete += c.Delete
		}
		return op
	}
	switch k {
	case KindRetain:
		return append(op, Retain(c.Retain))
	case KindInsert:
		return append(op, Insert(c.Insert))
	default:
		return append(op, Delete(c.Delete))
	}
}

// Apply runs op against content and returns the result.
func Apply(content string, op Operation) (string, error) {
	src := []rune(content)
	var b strings.Builder
	b.Grow(len(content))
	cursor := 0
	for i, c := range op {
		switch c.Kind() {
		case KindRetain:
			if cursor+c.Retain > len(src) {
				return "", fmt.Errorf("%w: retain %d at %d (component %d, length %d)", ErrOutOfBounds, c.Retain, cursor, i, len(src))
			}
			b.WriteString(string(src[cursor : cursor+c.Retain]))
			cursor += c.Retain
		case KindInsert:
			b.WriteString(c.Insert)
		case KindDelete:
			if cursor+c.Delete > len(src) {
				return "", fmt.Errorf("%w: delete %d at %d (component %d, length %d)", ErrOutOfBounds, c.Delete, cursor, i, len(src))
			}
			cursor += c.Delete
		}
	}
	b.WriteString(string(src[cursor:]))
	return b.String(), nil
}
