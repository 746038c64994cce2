package archive

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	"dbrewind/internal/source"
)

// RowHash computes a content fingerprint over every field of a row. Fields
// are folded in sorted name order so the hash is independent of map
// iteration; two rows with equal field values always hash equal.
func RowHash(row source.Row) uint64 {
	h := murmur3.New64()

	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(canonicalValue(row[name])))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// PrimaryKey extracts only the key fields of a row, for use as a tombstone
// or deletion filter.
func PrimaryKey(row source.Row, pkFields []string) source.Row {
	key := make(source.Row, len(pkFields))
	for _, field := range pkFields {
		key[field] = row[field]
	}
	return key
}

// KeyString renders a primary key as a stable lookup string. Numeric
// representations that compare equal (int64 5, float64 5, json.Number "5")
// render identically.
func KeyString(row source.Row, pkFields []string) string {
	parts := make([]string, len(pkFields))
	for i, field := range pkFields {
		parts[i] = canonicalValue(row[field])
	}
	return strings.Join(parts, "\x1f")
}

func canonicalValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "\x00nil"
	case string:
		return "s:" + v
	case bool:
		return "b:" + strconv.FormatBool(v)
	case int:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int32:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int64:
		return "i:" + strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return "i:" + strconv.FormatInt(int64(v), 10)
		}
		return "f:" + strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return canonicalValue(float64(v))
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return "i:" + strconv.FormatInt(i, 10)
		}
		if f, err := v.Float64(); err == nil {
			return canonicalValue(f)
		}
		return "s:" + v.String()
	case time.Time:
		return "t:" + v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("v:%v", v)
	}
}
