package leads

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestBuildFilterOwnershipOnly(t *testing.T) {
	where, args := BuildFilter(map[string]string{}, 42)
	assert.Equal(t, "WHERE user_id = $1", where)
	assert.Equal(t, []interface{}{int64(42)}, args)
}

func TestBuildFilterOperators(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name   string
		params map[string]string
		where  string
		args   []interface{}
	}{
		{
			"string equals",
			map[string]string{"city_equals": "Berlin"},
			"WHERE user_id = $1 AND city = $2",
			[]interface{}{"Berlin"},
		},
		{
			"string contains",
			map[string]string{"company_contains": "acme"},
			"WHERE user_id = $1 AND company ILIKE $2",
			[]interface{}{"%acme%"},
		},
		{
			"enum in",
			map[string]string{"status_in": "new,contacted"},
			"WHERE user_id = $1 AND status = ANY($2)",
			[]interface{}{pq.Array([]string{"new", "contacted"})},
		},
		{
			"number gt",
			map[string]string{"score_gt": "50"},
			"WHERE user_id = $1 AND score > $2",
			[]interface{}{50.0},
		},
		{
			"number between",
			map[string]string{"lead_value_between": "10,99.5"},
			"WHERE user_id = $1 AND lead_value BETWEEN $2 AND $3",
			[]interface{}{10.0, 99.5},
		},
		{
			"number between with missing upper bound",
			map[string]string{"lead_value_between": "10"},
			"WHERE user_id = $1 AND lead_value BETWEEN $2 AND $3",
			[]interface{}{10.0, 0.0},
		},
		{
			"date before",
			map[string]string{"created_at_before": "2026-03-14"},
			"WHERE user_id = $1 AND created_at < $2",
			[]interface{}{day},
		},
		{
			"date on matches the whole day",
			map[string]string{"last_activity_at_on": "2026-03-14T15:04:05Z"},
			"WHERE user_id = $1 AND last_activity_at >= $2 AND last_activity_at < $3",
			[]interface{}{day, day.AddDate(0, 0, 1)},
		},
		{
			"date between",
			map[string]string{"updated_at_between": "2026-03-14,2026-03-15"},
			"WHERE user_id = $1 AND updated_at >= $2 AND updated_at <= $3",
			[]interface{}{day, day.AddDate(0, 0, 1)},
		},
		{
			"bool equals",
			map[string]string{"is_qualified_equals": "true"},
			"WHERE user_id = $1 AND is_qualified = $2",
			[]interface{}{true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			where, args := BuildFilter(tc.params, 7)
			assert.Equal(t, tc.where, where)
			assert.Equal(t, append([]interface{}{int64(7)}, tc.args...), args)
		})
	}
}

func TestBuildFilterLegacyAliases(t *testing.T) {
	where, args := BuildFilter(map[string]string{"email": "doe"}, 7)
	assert.Equal(t, "WHERE user_id = $1 AND email ILIKE $2", where)
	assert.Equal(t, []interface{}{int64(7), "%doe%"}, args)

	where, args = BuildFilter(map[string]string{"status": "won"}, 7)
	assert.Equal(t, "WHERE user_id = $1 AND status = $2", where)
	assert.Equal(t, []interface{}{int64(7), "won"}, args)

	where, args = BuildFilter(map[string]string{"is_qualified": "1"}, 7)
	assert.Equal(t, "WHERE user_id = $1 AND is_qualified = $2", where)
	assert.Equal(t, []interface{}{int64(7), true}, args)
}

func TestBuildFilterCoercesMalformedValues(t *testing.T) {
	where, args := BuildFilter(map[string]string{"score_gt": "not-a-number"}, 7)
	assert.Equal(t, "WHERE user_id = $1 AND score > $2", where)
	assert.Equal(t, []interface{}{int64(7), 0.0}, args)

	_, args = BuildFilter(map[string]string{"created_at_after": "soon"}, 7)
	assert.Equal(t, []interface{}{int64(7), time.Time{}}, args)

	_, args = BuildFilter(map[string]string{"is_qualified": "maybe"}, 7)
	assert.Equal(t, []interface{}{int64(7), false}, args)
}

func TestBuildFilterIgnoresUnknownParameters(t *testing.T) {
	where, args := BuildFilter(map[string]string{
		"favourite_color":  "green",
		"score_typo_gt":    "3",
		"last_name_equals": "Doe",
	}, 7)
	assert.Equal(t, "WHERE user_id = $1 AND last_name = $2", where)
	assert.Equal(t, []interface{}{int64(7), "Doe"}, args)
}

func TestBuildFilterIsDeterministic(t *testing.T) {
	params := map[string]string{
		"status":      "new",
		"score_gt":    "10",
		"city_equals": "Berlin",
	}
	where, args := BuildFilter(params, 7)
	assert.Equal(t, "WHERE user_id = $1 AND city = $2 AND score > $3 AND status = $4", where)
	assert.Equal(t, []interface{}{int64(7), "Berlin", 10.0, "new"}, args)
}
