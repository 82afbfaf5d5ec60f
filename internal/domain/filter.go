package domain

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the on-disk representation of a column, as far as filtering
// cares about it.
type ColumnType int

const (
	ColumnOther ColumnType = iota
	ColumnTimestamp
	ColumnString
	ColumnInteger
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTimestamp:
		return "timestamp"
	case ColumnString:
		return "string"
	case ColumnInteger:
		return "integer"
	default:
		return "other"
	}
}

// LiteralKind is the type of a filter literal.
type LiteralKind int

const (
	LiteralTimestamp LiteralKind = iota
	LiteralString
	LiteralInt
	LiteralFloat
)

// Literal is a typed filter value. Timestamps are always held in UTC with no
// zone semantics, matching the naive UTC timestamps stored on disk.
type Literal struct {
	Kind  LiteralKind
	Time  time.Time
	Str   string
	Int   int64
	Float float64
}

func TimestampLiteral(t time.Time) Literal { return Literal{Kind: LiteralTimestamp, Time: t.UTC()} }

func StringLiteral(s string) Literal { return Literal{Kind: LiteralString, Str: s} }

func IntLiteral(n int64) Literal { return Literal{Kind: LiteralInt, Int: n} }

func FloatLiteral(f float64) Literal { return Literal{Kind: LiteralFloat, Float: f} }

func (l Literal) String() string {
	switch l.Kind {
	case LiteralString:
		return strconv.Quote(l.Str)
	case LiteralInt:
		return strconv.FormatInt(l.Int, 10)
	case LiteralFloat:
		return strconv.FormatFloat(l.Float, 'g', -1, 64)
	default:
		return l.Time.Format("2006-01-02T15:04:05.999999999")
	}
}

func (l Literal) numeric() bool { return l.Kind == LiteralInt || l.Kind == LiteralFloat }

func (l Literal) float() float64 {
	if l.Kind == LiteralInt {
		return float64(l.Int)
	}
	return l.Float
}

// compare orders two literals. Integers and floats compare by
// numeric value. ok is false when the kinds are not comparable.
func (l Literal) compare(o Literal) (int, bool) {
	if l.Kind != o.Kind {
		if l.numeric() && o.numeric() {
			return cmp.Compare(l.float(), o.float()), true
		}
		return 0, false
	}
	switch l.Kind {
	case LiteralString:
		return strings.Compare(l.Str, o.Str), true
	case LiteralInt:
		return cmp.Compare(l.Int, o.Int), true
	case LiteralFloat:
		return cmp.Compare(l.Float, o.Float), true
	default:
		return l.Time.Compare(o.Time), true
	}
}

// LiteralOf converts a decoded cell into a literal. Cells that cannot take
// part in a comparison (nulls, NaN, booleans) report false.
func LiteralOf(v any) (Literal, bool) {
	switch x := v.(type) {
	case time.Time:
		return TimestampLiteral(x), true
	case string:
		return StringLiteral(x), true
	case int64:
		return IntLiteral(x), true
	case int32:
		return IntLiteral(int64(x)), true
	case int:
		return IntLiteral(int64(x)), true
	case float64:
		if math.IsNaN(x) {
			return Literal{}, false
		}
		return FloatLiteral(x), true
	case float32:
		if math.IsNaN(float64(x)) {
			return Literal{}, false
		}
		return FloatLiteral(float64(x)), true
	default:
		return Literal{}, false
	}
}

// Operator is a comparison operator supported by the dataset reader.
type Operator string

const (
	OpEq  Operator = "="
	OpGte Operator = ">="
	OpLte Operator = "<="
)

// Condition is one (column, operator, literal) triple.
type Condition struct {
	Column string
	Op     Operator
	Value  Literal
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Column, c.Op, c.Value)
}

// Matches reports whether a cell satisfies the condition. Nulls and cells of
// a different type never match.
func (c Condition) Matches(cell any) bool {
	lit, ok := LiteralOf(cell)
	if !ok {
		return false
	}
	return c.MatchesLiteral(lit)
}

// MatchesLiteral is Matches for an already converted value.
func (c Condition) MatchesLiteral(lit Literal) bool {
	n, ok := lit.compare(c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return n == 0
	case OpGte:
		return n >= 0
	case OpLte:
		return n <= 0
	default:
		return false
	}
}

// MayMatchRange reports whether any value in [lo, hi] can satisfy the
// condition. It is used to skip partitions and row groups using statistics.
func (c Condition) MayMatchRange(lo, hi Literal) bool {
	nlo, okLo := lo.compare(c.Value)
	nhi, okHi := hi.compare(c.Value)
	if !okLo || !okHi {
		return false
	}
	switch c.Op {
	case OpEq:
		return nlo <= 0 && nhi >= 0
	case OpGte:
		return nhi >= 0
	case OpLte:
		return nlo <= 0
	default:
		return true
	}
}

// Predicate is a conjunction of conditions.
type Predicate []Condition

// GaugeRangePredicate builds the standard download predicate: gauge equality
// plus an inclusive range on the time column.
func GaugeRangePredicate(gauge, timeColumn string, lower, upper Literal) Predicate {
	return Predicate{
		{Column: GaugeColumn, Op: OpEq, Value: StringLiteral(gauge)},
		{Column: timeColumn, Op: OpGte, Value: lower},
		{Column: timeColumn, Op: OpLte, Value: upper},
	}
}

// Columns returns the distinct columns referenced by the predicate, in order.
func (p Predicate) Columns() []string {
	var cols []string
	seen := make(map[string]bool, len(p))
	for _, c := range p {
		if !seen[c.Column] {
			seen[c.Column] = true
			cols = append(cols, c.Column)
		}
	}
	return cols
}

// YearLiterals picks the literal representation for a year-semantic column
// based on its stored type. Timestamp columns get the range bounds as naive UTC
// timestamps, string columns the four-digit years, anything else integer years
// (which also compare numerically against float columns).
func YearLiterals(colType ColumnType, start, end time.Time) (Literal, Literal) {
	start, end = start.UTC(), end.UTC()
	switch colType {
	case ColumnTimestamp:
		return TimestampLiteral(start), TimestampLiteral(end)
	case ColumnString:
		return StringLiteral(fmt.Sprintf("%04d", start.Year())), StringLiteral(fmt.Sprintf("%04d", end.Year()))
	default:
		return IntLiteral(int64(start.Year())), IntLiteral(int64(end.Year()))
	}
}

// InstantLiterals returns the range bounds as naive UTC timestamps.
func InstantLiterals(start, end time.Time) (Literal, Literal) {
	return TimestampLiteral(start), TimestampLiteral(end)
}
