package vm

import (
	"math/big"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// SmallInteger Primitives
// ---------------------------------------------------------------------------
//
// Every SmallInteger primitive fails unless both operands are small
// integers and the result is one too; the method body then retries with
// LargeInteger arithmetic.

func registerIntegerPrimitives() {
	arith := func(name string, op func(a, b int64) (int64, bool)) {
		definePrimitive("SmallInteger_"+name, func(es *ExecState) PrimResult {
			a, b, ok := es.smallOperands()
			if !ok {
				return PrimFailed
			}
			r, ok := op(a, b)
			if !ok {
				return PrimFailed
			}
			return es.AnswerInt(r)
		})
	}
	compare := func(name string, op func(a, b int64) bool) {
		definePrimitive("SmallInteger_"+name, func(es *ExecState) PrimResult {
			a, b, ok := es.smallOperands()
			if !ok {
				return PrimFailed
			}
			return es.AnswerBool(op(a, b))
		})
	}

	arith("plus", func(a, b int64) (int64, bool) { return a + b, true })
	arith("minus", func(a, b int64) (int64, bool) { return a - b, true })
	compare("lt", func(a, b int64) bool { return a < b })
	compare("gt", func(a, b int64) bool { return a > b })
	compare("le", func(a, b int64) bool { return a <= b })
	compare("ge", func(a, b int64) bool { return a >= b })
	compare("eq", func(a, b int64) bool { return a == b })
	compare("ne", func(a, b int64) bool { return a != b })
	arith("mul", func(a, b int64) (int64, bool) {
		if a == 0 || b == 0 {
			return 0, true
		}
		r := a * b
		// Operands are at most 63 bits wide, so a wrapped product never
		// divides back to b.
		return r, r/b == a
	})
	// // floors toward negative infinity
	arith("div", func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, true
	})
	// \\ takes the sign of the divisor
	arith("mod", func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		r := a % b
		if r != 0 && ((r < 0) != (b < 0)) {
			r += b
		}
		return r, true
	})
	// quo: truncates toward zero
	arith("quo", func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	})
	arith("bitAnd", func(a, b int64) (int64, bool) { return a & b, true })
	arith("bitOr", func(a, b int64) (int64, bool) { return a | b, true })
	arith("bitXor", func(a, b int64) (int64, bool) { return a ^ b, true })
	arith("bitShift", func(a, b int64) (int64, bool) {
		switch {
		case b >= 0:
			if a == 0 {
				return 0, true
			}
			if b >= 62 {
				return 0, false
			}
			r := a << uint(b)
			return r, r>>uint(b) == a
		case b <= -63:
			if a < 0 {
				return -1, true
			}
			return 0, true
		default:
			return a >> uint(-b), true
		}
	})

	registerLargeIntegerPrimitives()
}

func (es *ExecState) smallOperands() (int64, int64, bool) {
	rcv, arg := es.Receiver(), es.Arg(0)
	if !rcv.IsSmallInt() || !arg.IsSmallInt() {
		return 0, 0, false
	}
	return rcv.SmallInt(), arg.SmallInt(), true
}

// ---------------------------------------------------------------------------
// LargeInteger Primitives
// ---------------------------------------------------------------------------
//
// These accept any mix of small and large integers and normalize their
// answers, so a result that fits comes back as a SmallInteger.

func registerLargeIntegerPrimitives() {
	arith := func(name string, op func(r, a, b *big.Int) bool) {
		definePrimitive("LargeInteger_"+name, func(es *ExecState) PrimResult {
			a, b, ok := es.bigOperands()
			if !ok {
				return PrimFailed
			}
			r := new(big.Int)
			if !op(r, a, b) {
				return PrimFailed
			}
			return es.Answer(es.rt.Integer(r))
		})
	}
	compare := func(name string, want func(c int) bool) {
		definePrimitive("LargeInteger_"+name, func(es *ExecState) PrimResult {
			a, b, ok := es.bigOperands()
			if !ok {
				return PrimFailed
			}
			return es.AnswerBool(want(a.Cmp(b)))
		})
	}

	arith("plus", func(r, a, b *big.Int) bool { r.Add(a, b); return true })
	arith("minus", func(r, a, b *big.Int) bool { r.Sub(a, b); return true })
	arith("mul", func(r, a, b *big.Int) bool { r.Mul(a, b); return true })
	arith("div", func(r, a, b *big.Int) bool {
		if b.Sign() == 0 {
			return false
		}
		m := new(big.Int)
		r.DivMod(a, b, m)
		// DivMod is Euclidean; floor differs for negative divisors
		if b.Sign() < 0 && m.Sign() != 0 {
			r.Sub(r, big.NewInt(1))
		}
		return true
	})
	arith("mod", func(r, a, b *big.Int) bool {
		if b.Sign() == 0 {
			return false
		}
		r.Mod(a, b)
		if b.Sign() < 0 && r.Sign() != 0 {
			r.Add(r, b)
		}
		return true
	})
	compare("eq", func(c int) bool { return c == 0 })
	compare("lt", func(c int) bool { return c < 0 })
	compare("gt", func(c int) bool { return c > 0 })

	definePrimitive("LargeInteger_printString", func(es *ExecState) PrimResult {
		n, ok := es.rt.BigValue(es.Receiver())
		if !ok {
			return PrimFailed
		}
		return es.Answer(es.rt.NewString(n.String()))
	})

	// printString: radix - digits above 9 in upper case
	definePrimitive("Integer_printStringRadix", func(es *ExecState) PrimResult {
		n, ok := es.rt.BigValue(es.Receiver())
		base, bok := es.intArg(0)
		if !ok || !bok || base < 2 || base > 36 {
			return PrimFailed
		}
		if n.IsInt64() {
			return es.Answer(es.rt.NewString(strings.ToUpper(strconv.FormatInt(n.Int64(), int(base)))))
		}
		return es.Answer(es.rt.NewString(strings.ToUpper(n.Text(int(base)))))
	})
}

func (es *ExecState) bigOperands() (*big.Int, *big.Int, bool) {
	a, ok := es.rt.BigValue(es.Receiver())
	if !ok {
		return nil, nil, false
	}
	b, ok := es.rt.BigValue(es.Arg(0))
	if !ok {
		return nil, nil, false
	}
	return a, b, true
}
