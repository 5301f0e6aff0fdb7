package queryplan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataplane/query-gateway/contract"
	"github.com/dataplane/query-gateway/internal/sqlguard"
	"github.com/dataplane/query-gateway/models"
)

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	c := contract.Default()
	require.NoError(t, c.Validate())
	return NewCompiler(c)
}

func TestCompileFullPlan(t *testing.T) {
	compiler := newCompiler(t)

	out, err := compiler.Compile(&models.QueryPlan{
		Source:     "EVENTS",
		Dimensions: []string{"CUSTOMER_ID", "REGION"},
		Measures: []models.Measure{
			{Fn: "count", Column: "*"},
			{Fn: "sum", Column: "AMOUNT"},
		},
		Filters: []models.Filter{
			{Column: "REGION", Operator: "=", Value: "emea"},
			{Column: "AMOUNT", Operator: ">", Value: 100},
		},
		TopN: 25,
	})
	require.NoError(t, err)

	expected := "SELECT CUSTOMER_ID, REGION, COUNT(*) AS COUNT_ALL, SUM(AMOUNT) AS SUM_AMOUNT\n" +
		"FROM ANALYTICS.ACTIVITY.EVENTS\n" +
		"WHERE REGION = 'emea' AND AMOUNT > 100\n" +
		"GROUP BY CUSTOMER_ID, REGION\n" +
		"ORDER BY COUNT_ALL DESC\n" +
		"LIMIT 25"
	assert.Equal(t, expected, out.SQL)
	assert.False(t, out.FallbackApplied)
}

func TestCompileUsesPolicyLimitWhenTopNMissing(t *testing.T) {
	compiler := newCompiler(t)

	out, err := compiler.Compile(&models.QueryPlan{
		Source:     "EVENTS",
		Dimensions: []string{"REGION"},
		Measures:   []models.Measure{{Fn: "count", Column: "*"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "LIMIT 10000")
}

func TestCompileNoDimensionsNoMeasures(t *testing.T) {
	compiler := newCompiler(t)

	out, err := compiler.Compile(&models.QueryPlan{Source: "EVENTS", TopN: 5})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.SQL, "SELECT *\nFROM "))
	assert.NotContains(t, out.SQL, "GROUP BY")
	assert.NotContains(t, out.SQL, "ORDER BY")
}

func TestCompileFallbackSchemaFlagged(t *testing.T) {
	compiler := newCompiler(t)

	out, err := compiler.Compile(&models.QueryPlan{Source: "UNKNOWN_TABLE", TopN: 10})
	require.NoError(t, err)
	assert.True(t, out.FallbackApplied)
	assert.Contains(t, out.SQL, "ANALYTICS.ACTIVITY.UNKNOWN_TABLE")
}

func TestCompileEscapesStringValues(t *testing.T) {
	compiler := newCompiler(t)

	out, err := compiler.Compile(&models.QueryPlan{
		Source:  "EVENTS",
		Filters: []models.Filter{{Column: "NAME", Operator: "=", Value: "O'Brien'; DROP TABLE X;--"}},
		TopN:    10,
	})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "NAME = 'O''Brien''; DROP TABLE X;--'")
}

func TestCompileInAndBetween(t *testing.T) {
	compiler := newCompiler(t)

	out, err := compiler.Compile(&models.QueryPlan{
		Source: "EVENTS",
		Filters: []models.Filter{
			{Column: "REGION", Operator: "IN", Value: []interface{}{"emea", "apac"}},
			{Column: "AMOUNT", Operator: "BETWEEN", Value: []interface{}{float64(10), float64(20)}},
		},
		TopN: 10,
	})
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "REGION IN ('emea','apac')")
	assert.Contains(t, out.SQL, "AMOUNT BETWEEN 10 AND 20")
}

func TestCompileRejectsBadIdentifiers(t *testing.T) {
	compiler := newCompiler(t)

	cases := []models.QueryPlan{
		{Source: "EVENTS", Dimensions: []string{"a; DROP TABLE x"}},
		{Source: "EVENTS", Measures: []models.Measure{{Fn: "count(", Column: "*"}}},
		{Source: "EVENTS", Filters: []models.Filter{{Column: "a b", Operator: "=", Value: 1}}},
		{Source: "EVENTS", Filters: []models.Filter{{Column: "A", Operator: "~~", Value: 1}}},
	}
	for _, plan := range cases {
		p := plan
		_, err := compiler.Compile(&p)
		assert.Error(t, err)
	}
}

func TestCompileRejectsEmptyInList(t *testing.T) {
	compiler := newCompiler(t)

	_, err := compiler.Compile(&models.QueryPlan{
		Source:  "EVENTS",
		Filters: []models.Filter{{Column: "REGION", Operator: "IN", Value: []interface{}{}}},
	})
	assert.Error(t, err)
}

func TestCompileUnsupportedGrain(t *testing.T) {
	compiler := newCompiler(t)

	_, err := compiler.Compile(&models.QueryPlan{Source: "EVENTS", Grain: "fortnight"})
	assert.Error(t, err)
}

// Compiled output must always survive the security validator: the
// compiler is not trusted to produce safe SQL by construction alone.
func TestCompiledOutputPassesValidator(t *testing.T) {
	c := contract.Default()
	compiler := NewCompiler(c)
	guard := sqlguard.NewValidator(c)

	plans := []models.QueryPlan{
		{Source: "EVENTS", Dimensions: []string{"REGION"}, Measures: []models.Measure{{Fn: "count", Column: "*"}}, TopN: 50},
		{Source: "REPORTING.VW_ACTIVITY_SUMMARY", TopN: 10},
		{Source: "EVENTS", Filters: []models.Filter{{Column: "NAME", Operator: "=", Value: "O'Brien"}}, TopN: 1},
		{Source: "SOMETHING_NEW", Measures: []models.Measure{{Fn: "avg", Column: "LATENCY_MS"}}, TopN: 100},
	}
	for _, plan := range plans {
		p := plan
		out, err := compiler.Compile(&p)
		require.NoError(t, err)
		violations := guard.Validate(out.SQL)
		assert.Empty(t, violations, "compiled SQL rejected: %s", out.SQL)
	}
}
