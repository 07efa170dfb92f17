package ot

// Side is the tie-break hint for two inserts at the same position.
type Side int

const (
	Left Side = iota
	Right
)

// cursor walks an operation a few runes at a time.
type cursor struct {
	op  Operation
	i   int
	off int
}

func newCursor(op Operation) *cursor {
	return &cursor{op: op}
}

func (c *cursor) done() bool {
	return c.i >= len(c.op)
}

func (c *cursor) kind() Kind {
	if c.done() {
		return KindNone
	}
	return c.op[c.i].Kind()
}

func (c *cursor) remaining() int {
	return c.op[c.i].Len() - c.off
}

// take consumes up to n runes of the current component, or all of it when n
// is negative.
func (c *cursor) take(n int) Component {
	cur := c.op[c.i]
	rem := c.remaining()
	if n < 0 || n > rem {
		n = rem
	}
	var out Component
	switch cur.Kind() {
	case KindRetain:
		out = Retain(n)
	case KindDelete:
		out = Delete(n)
	case KindInsert:
		if c.off == 0 && n == rem {
			out = Insert(cur.Insert)
		} else {
			out = Insert(string([]rune(cur.Insert)[c.off : c.off+n]))
		}
	}
	c.off += n
	if c.off >= cur.Len() {
		c.i++
		c.off = 0
	}
	return out
}

// Transform returns a', the version of a that applies after b has been
// applied to the content both were generated against.
//
// Inserts from a always land before inserts from b at the same position,
// whichever side is passed.
func Transform(a, b Operation, side Side) Operation {
	_ = side
	ia, ib := newCursor(Normalize(a)), newCursor(Normalize(b))
	out := make(Operation, 0, len(a)+len(b))
	for !ia.done() {
		if ia.kind() == KindInsert {
			out = appendComponent(out, ia.take(-1))
			continue
		}
		if ib.kind() == KindInsert {
			out = appendComponent(out, Retain(ib.remaining()))
			ib.take(-1)
			continue
		}
		if ib.done() {
			out = appendComponent(out, ia.take(-1))
			continue
		}
		n := min(ia.remaining(), ib.remaining())
		ca, cb := ia.take(n), ib.take(n)
		switch {
		case ca.Kind() == KindRetain && cb.Kind() == KindRetain:
			out = appendComponent(out, Retain(n))
		case ca.Kind() == KindDelete && cb.Kind() == KindRetain:
			out = appendComponent(out, Delete(n))
		}
	}
	return out
}

// Compose folds two sequential operations into one, such that applying the
// result equals applying a and then b.
func Compose(a, b Operation) Operation {
	ia, ib := newCursor(Normalize(a)), newCursor(Normalize(b))
	out := make(Operation, 0, len(a)+len(b))
	for !ia.done() || !ib.done() {
		switch {
		case ia.kind() == KindDelete:
			out = appendComponent(out, ia.take(-1))
			continue
		case ib.kind() == KindInsert:
			out = appendComponent(out, ib.take(-1))
			continue
		case ia.done():
			out = appendComponent(out, ib.take(-1))
			continue
		case ib.done():
			out = appendComponent(out, ia.take(-1))
			continue
		}
		n := min(ia.remaining(), ib.remaining())
		ca, cb := ia.take(n), ib.take(n)
		switch {
		case ca.Kind() == KindRetain && cb.Kind() == KindRetain:
			out = appendComponent(out, Retain(n))
		case ca.Kind() == KindRetain && cb.Kind() == KindDelete:
			out = appendComponent(out, Delete(n))
		case ca.Kind() == KindInsert && cb.Kind() == KindRetain:
			out = appendComponent(out, ca)
		}
	}
	return out
}
