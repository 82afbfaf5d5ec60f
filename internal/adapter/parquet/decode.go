package parquet

import (
	"encoding/binary"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"
	"github.com/parquet-go/parquet-go/format"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// julianUnixEpoch is the Julian day number of 1970-01-01, used by INT96 timestamps.
const julianUnixEpoch = 2440588

// classify maps a leaf's physical and logical type onto the filter's view
// of column types.
func classify(t parquet.Type) domain.ColumnType {
	lt := t.LogicalType()
	switch t.Kind() {
	case parquet.Int96:
		return domain.ColumnTimestamp
	case parquet.Int64:
		if lt != nil && lt.Timestamp != nil {
			return domain.ColumnTimestamp
		}
		if lt == nil || lt.Integer != nil {
			return domain.ColumnInteger
		}
	case parquet.Int32:
		if lt == nil || lt.Integer != nil {
			return domain.ColumnInteger
		}
	case parquet.ByteArray:
		if lt == nil || lt.UTF8 != nil || lt.Enum != nil {
			return domain.ColumnString
		}
	}
	return domain.ColumnOther
}

// decoder converts raw column values into table cells for one leaf column.
type decoder struct {
	kind parquet.Kind
	lt   *format.LogicalType
}

func newDecoder(t parquet.Type) decoder {
	return decoder{kind: t.Kind(), lt: t.LogicalType()}
}

func (d decoder) cell(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch d.kind {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return d.integer(int64(v.Int32()))
	case parquet.Int64:
		return d.integer(v.Int64())
	case parquet.Int96:
		return int96Time(v.Int96())
	case parquet.Float:
		// Shortest representation of the float32, not of its float64 widening.
		f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(v.Float()), 'g', -1, 32), 64)
		return f
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		b := v.ByteArray()
		switch {
		case d.lt != nil && d.lt.Decimal != nil:
			return decimalFloat(new(big.Int).SetBytes(b), b, d.lt.Decimal.Scale)
		case d.lt != nil && d.lt.UUID != nil && len(b) == 16:
			return uuid.UUID(b).String()
		}
		return string(b)
	default:
		return nil
	}
}

func (d decoder) integer(n int64) any {
	if d.lt == nil {
		return n
	}
	switch {
	case d.lt.Timestamp != nil:
		return unitTime(n, d.lt.Timestamp.Unit)
	case d.lt.Date != nil:
		return time.Unix(n*86400, 0).UTC()
	case d.lt.Decimal != nil:
		return float64(n) / math.Pow10(int(d.lt.Decimal.Scale))
	default:
		return n
	}
}

func unitTime(n int64, unit format.TimeUnit) time.Time {
	switch {
	case unit.Millis != nil:
		return time.UnixMilli(n).UTC()
	case unit.Micros != nil:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func int96Time(v deprecated.Int96) time.Time {
	nanos := int64(uint64(v[1])<<32 | uint64(v[0]))
	days := int64(v[2]) - julianUnixEpoch
	return time.Unix(days*86400, nanos).UTC()
}

// decimalFloat decodes a big-endian two's complement unscaled decimal.
func decimalFloat(unscaled *big.Int, raw []byte, scale int32) float64 {
	if len(raw) > 0 && raw[0]&0x80 != 0 {
		unscaled.Sub(unscaled, new(big.Int).Lsh(big.NewInt(1), uint(len(raw))*8))
	}
	f, _ := new(big.Float).SetInt(unscaled).Float64()
	return f / math.Pow10(int(scale))
}

// statLiteral decodes a min or max statistic into a comparable literal. Only
// types with a well-defined sort order that the filter compares are decoded.
func statLiteral(t parquet.Type, raw []byte) (domain.Literal, bool) {
	if len(raw) == 0 {
		return domain.Literal{}, false
	}
	lt := t.LogicalType()
	switch t.Kind() {
	case parquet.Int32:
		if len(raw) != 4 || !signedInteger(lt) {
			return domain.Literal{}, false
		}
		return domain.IntLiteral(int64(int32(binary.LittleEndian.Uint32(raw)))), true
	case parquet.Int64:
		if len(raw) != 8 {
			return domain.Literal{}, false
		}
		n := int64(binary.LittleEndian.Uint64(raw))
		switch {
		case signedInteger(lt):
			return domain.IntLiteral(n), true
		case lt != nil && lt.Timestamp != nil:
			return domain.TimestampLiteral(unitTime(n, lt.Timestamp.Unit)), true
		}
	case parquet.Float:
		if len(raw) != 4 {
			return domain.Literal{}, false
		}
		return floatStat(float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))))
	case parquet.Double:
		if len(raw) != 8 {
			return domain.Literal{}, false
		}
		return floatStat(math.Float64frombits(binary.LittleEndian.Uint64(raw)))
	case parquet.ByteArray:
		if lt == nil || lt.UTF8 != nil || lt.Enum != nil {
			return domain.StringLiteral(string(raw)), true
		}
	}
	return domain.Literal{}, false
}

// floatStat rejects NaN bounds, which do not order.
func floatStat(f float64) (domain.Literal, bool) {
	if math.IsNaN(f) {
		return domain.Literal{}, false
	}
	return domain.FloatLiteral(f), true
}

// signedInteger reports whether min/max statistics of an integer column sort
// the same way the filter compares them.
func signedInteger(lt *format.LogicalType) bool {
	return lt == nil || (lt.Integer != nil && lt.Integer.IsSigned)
}
