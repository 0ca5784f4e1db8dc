package leads

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindEnum
	kindNumber
	kindDate
	kindBool
)

// filterFields lists the lead columns that can be filtered on, together
// with their kind. The kind decides which operator suffixes apply.
var filterFields = map[string]fieldKind{
	"first_name":       kindString,
	"last_name":        kindString,
	"email":            kindString,
	"phone":            kindString,
	"company":          kindString,
	"city":             kindString,
	"state":            kindString,
	"source":           kindEnum,
	"status":           kindEnum,
	"score":            kindNumber,
	"lead_value":       kindNumber,
	"created_at":       kindDate,
	"updated_at":       kindDate,
	"last_activity_at": kindDate,
	"is_qualified":     kindBool,
}

var kindOperators = map[fieldKind][]string{
	kindString: {"equals", "contains"},
	kindEnum:   {"equals", "in"},
	kindNumber: {"equals", "gt", "lt", "between"},
	kindDate:   {"on", "before", "after", "between"},
	kindBool:   {"equals"},
}

// legacyAliases are unsuffixed parameter names an older client still sends.
// They map to a column and operator of the suffixed convention.
var legacyAliases = map[string]struct {
	column   string
	operator string
}{
	"email":        {"email", "contains"},
	"company":      {"company", "contains"},
	"city":         {"city", "contains"},
	"source":       {"source", "equals"},
	"status":       {"status", "equals"},
	"is_qualified": {"is_qualified", "equals"},
}

// BuildFilter translates the flat query parameters of a list request into a
// parameterized WHERE clause and its ordered bound values. The clause always
// begins with the ownership predicate on userID.
//
// Parameter names follow the suffix convention column_operator, e.g.
// score_gt=50 or status_in=new,contacted, plus the legacy unsuffixed
// aliases. Unknown parameters are ignored. Malformed values are coerced,
// never rejected: broken numbers become 0, broken booleans false, broken
// timestamps the zero time.
//
// Parameters are processed in sorted order so the produced clause is stable.
func BuildFilter(params map[string]string, userID int64) (string, []interface{}) {
	where := "WHERE user_id = $1"
	args := []interface{}{userID}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		column, operator, ok := resolveParameter(key)
		if !ok {
			continue
		}
		clause, clauseArgs := buildClause(column, operator, params[key], len(args)+1)
		where += clause
		args = append(args, clauseArgs...)
	}
	return where, args
}

func resolveParameter(key string) (column, operator string, ok bool) {
	if alias, found := legacyAliases[key]; found {
		return alias.column, alias.operator, true
	}
	for column, kind := range filterFields {
		for _, operator := range kindOperators[kind] {
			if key == column+"_"+operator {
				return column, operator, true
			}
		}
	}
	return "", "", false
}

func buildClause(column, operator, value string, index int) (string, []interface{}) {
	switch filterFields[column] {
	case kindString:
		if operator == "contains" {
			return fmt.Sprintf(" AND %s ILIKE $%d", column, index), []interface{}{"%" + value + "%"}
		}
		return fmt.Sprintf(" AND %s = $%d", column, index), []interface{}{value}

	case kindEnum:
		if operator == "in" {
			return fmt.Sprintf(" AND %s = ANY($%d)", column, index),
				[]interface{}{pq.Array(strings.Split(value, ","))}
		}
		return fmt.Sprintf(" AND %s = $%d", column, index), []interface{}{value}

	case kindNumber:
		switch operator {
		case "gt":
			return fmt.Sprintf(" AND %s > $%d", column, index), []interface{}{coerceNumber(value)}
		case "lt":
			return fmt.Sprintf(" AND %s < $%d", column, index), []interface{}{coerceNumber(value)}
		case "between":
			low, high := splitRange(value)
			return fmt.Sprintf(" AND %s BETWEEN $%d AND $%d", column, index, index+1),
				[]interface{}{coerceNumber(low), coerceNumber(high)}
		}
		return fmt.Sprintf(" AND %s = $%d", column, index), []interface{}{coerceNumber(value)}

	case kindDate:
		switch operator {
		case "before":
			return fmt.Sprintf(" AND %s < $%d", column, index), []interface{}{coerceTime(value)}
		case "after":
			return fmt.Sprintf(" AND %s > $%d", column, index), []interface{}{coerceTime(value)}
		case "between":
			low, high := splitRange(value)
			return fmt.Sprintf(" AND %s >= $%d AND %s <= $%d", column, index, column, index+1),
				[]interface{}{coerceTime(low), coerceTime(high)}
		}
		// "on" matches the whole UTC day of the given timestamp
		t := coerceTime(value)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return fmt.Sprintf(" AND %s >= $%d AND %s < $%d", column, index, column, index+1),
			[]interface{}{day, day.AddDate(0, 0, 1)}

	case kindBool:
		qualified, _ := strconv.ParseBool(value)
		return fmt.Sprintf(" AND %s = $%d", column, index), []interface{}{qualified}
	}
	return "", nil
}

func coerceNumber(value string) float64 {
	number, _ := strconv.ParseFloat(strings.TrimSpace(value), 64)
	return number
}

func coerceTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	t, _ := time.ParseInLocation("2006-01-02", value, time.UTC)
	return t
}

// splitRange splits the comma form of a between value. A missing upper
// bound yields the empty string, which the coercion turns into the zero
// value of the field's kind.
func splitRange(value string) (string, string) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
