package expression

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"conversation-log/internal/attr"
)

func TestSession_ReusesNameTokensAndNumbersValues(t *testing.T) {
	s := NewSession()
	require.Equal(t, "#n0", s.Name("Status"))
	require.Equal(t, "#n1", s.Name("Count"))
	require.Equal(t, "#n0", s.Name("Status"))

	require.Equal(t, ":v0", s.Value(attr.S("a")))
	require.Equal(t, ":v1", s.Value(attr.S("a")))

	require.Equal(t, map[string]string{"#n0": "Status", "#n1": "Count"}, s.Names())
	require.Len(t, s.Values(), 2)
}

func TestSession_EmptyMapsAreNil(t *testing.T) {
	s := NewSession()
	require.Nil(t, s.Names())
	require.Nil(t, s.Values())
}

func TestSession_SameAttributeDoesNotCollapse(t *testing.T) {
	s := NewSession()
	got := And(s.Equals("Status", attr.S("open")), s.Equals("Status", attr.S("closed")))

	require.Equal(t, "#n0 = :v0 AND #n0 = :v1", got.Expression())
	require.Equal(t, map[string]string{"#n0": "Status"}, got.Names())
	require.Equal(t, map[string]types.AttributeValue{
		":v0": attr.S("open"),
		":v1": attr.S("closed"),
	}, got.Values())
}

func TestSession_Builders(t *testing.T) {
	s := NewSession()
	cases := []struct {
		cond Condition
		want string
	}{
		{s.AttributeExists("PK"), "attribute_exists(#n0)"},
		{s.AttributeNotExists("SK"), "attribute_not_exists(#n1)"},
		{s.BeginsWith("SK", "message#"), "begins_with(#n1, :v0)"},
		{s.Between("Seq", attr.Int(1), attr.Int(5)), "#n2 BETWEEN :v1 AND :v2"},
		{s.In("Role", attr.S("user")), "#n3 IN (:v3)"},
		{s.Size("Tags", OpGreater, 1), "size(#n4) > :v4"},
		{s.AttributeType("Tags", attr.KindStringSet), "attribute_type(#n4, :v5)"},
		{s.Contains("Tags", attr.S("x")), "contains(#n4, :v6)"},
		{s.NotEquals("Role", attr.S("tool")), "#n3 <> :v7"},
		{s.GreaterThan("Seq", attr.Int(1)), "#n2 > :v8"},
		{s.LessThan("Seq", attr.Int(9)), "#n2 < :v9"},
		{s.Compare("Seq", OpGreaterOrEqual, attr.Int(2)), "#n2 >= :v10"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.cond.Expression())
	}
	require.Panics(t, func() { s.In("Role") })
}

func TestSession_ConditionRetokenizesDerivedCondition(t *testing.T) {
	legacy := And(Equals("Status", attr.S("open")), Equals("Status.x", attr.S("b")))
	require.Equal(t, "#Status = :Status AND #Status_x = :Status_x", legacy.Expression())

	s := NewSession()
	s.Name("PK")
	got := s.Condition(legacy)

	require.Equal(t, "#n1 = :v0 AND #n2 = :v1", got.Expression())
	require.Equal(t, map[string]string{"#n1": "Status", "#n2": "Status.x"}, got.Names())
	require.Equal(t, attr.S("open"), got.Values()[":v0"])
	require.Equal(t, attr.S("b"), got.Values()[":v1"])
	require.True(t, s.Condition(Condition{}).IsEmpty())
}

func TestSession_ConditionAndUpdateShareTokens(t *testing.T) {
	u := NewUpdate().Set("Title", attr.S("x"))
	cond := u.Session().AttributeExists("PK")
	upd, err := u.Build()
	require.NoError(t, err)

	require.Equal(t, "SET #n0 = :v0", upd.Expression)
	require.Equal(t, "attribute_exists(#n1)", cond.Expression())
	require.Equal(t, map[string]string{"#n0": "Title"}, upd.Names)
	require.Equal(t, map[string]string{"#n0": "Title", "#n1": "PK"}, u.Session().Names())
}
