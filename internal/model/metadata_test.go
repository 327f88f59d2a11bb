package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImportanceNorm_EnumValues(t *testing.T) {
	require.Equal(t, 0.25, Metadata{KeyImportance: "low"}.ImportanceNorm())
	require.Equal(t, 0.5, Metadata{KeyImportance: "medium"}.ImportanceNorm())
	require.Equal(t, 0.85, Metadata{KeyImportance: "high"}.ImportanceNorm())
}

func TestImportanceNorm_NumericClamped(t *testing.T) {
	require.Equal(t, 0.7, Metadata{KeyImportance: 0.7}.ImportanceNorm())
	require.Equal(t, 1.0, Metadata{KeyImportance: 3.2}.ImportanceNorm())
	require.Equal(t, 0.0, Metadata{KeyImportance: -1}.ImportanceNorm())
}

func TestImportanceNorm_AbsentOrUnknownDefaults(t *testing.T) {
	require.Equal(t, 0.5, Metadata{}.ImportanceNorm())
	require.Equal(t, 0.5, Metadata{KeyImportance: "sky-high"}.ImportanceNorm())
	require.Equal(t, 0.5, Metadata{KeyImportance: true}.ImportanceNorm())
}

func TestHighImportance(t *testing.T) {
	require.True(t, Metadata{KeyImportance: "high"}.HighImportance())
	require.True(t, Metadata{KeyImportance: 0.9}.HighImportance())
	require.False(t, Metadata{KeyImportance: "medium"}.HighImportance())
	require.False(t, Metadata{KeyImportance: 0.5}.HighImportance())
	require.False(t, Metadata{}.HighImportance())
}

func TestMetadataContains(t *testing.T) {
	stored := Metadata{
		"tags":     []string{"a", "b"},
		"priority": "high",
		"attempts": 3,
		"source": map[string]interface{}{
			"channel": "chat",
			"labels":  []string{"x", "y"},
		},
	}

	cases := []struct {
		name   string
		filter map[string]interface{}
		want   bool
	}{
		{"scalar equal", map[string]interface{}{"priority": "high"}, true},
		{"scalar mismatch", map[string]interface{}{"priority": "low"}, false},
		{"absent key", map[string]interface{}{"owner": "alice"}, false},
		{"numeric across types", map[string]interface{}{"attempts": 3.0}, true},
		{"list subset", map[string]interface{}{"tags": []string{"a"}}, true},
		{"list full", map[string]interface{}{"tags": []string{"a", "b"}}, true},
		{"list superset", map[string]interface{}{"tags": []string{"a", "c"}}, false},
		{"scalar against stored list", map[string]interface{}{"tags": "b"}, true},
		{"scalar against stored list miss", map[string]interface{}{"tags": "z"}, false},
		{"nested object", map[string]interface{}{"source": map[string]interface{}{"channel": "chat"}}, true},
		{"nested object mismatch", map[string]interface{}{"source": map[string]interface{}{"channel": "email"}}, false},
		{"nested list subset", map[string]interface{}{"source": map[string]interface{}{"labels": []string{"y"}}}, true},
		{"scalar against nested list", map[string]interface{}{"source": map[string]interface{}{"labels": "y"}}, false},
		{"object against scalar", map[string]interface{}{"priority": map[string]interface{}{"v": 1}}, false},
		{"list against scalar", map[string]interface{}{"priority": []string{"high"}}, false},
		{"empty filter", map[string]interface{}{}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, stored.Contains(c.filter))
		})
	}
}

func TestMetadataContains_NilMetadata(t *testing.T) {
	var m Metadata
	require.True(t, m.Contains(nil))
	require.False(t, m.Contains(map[string]interface{}{"k": "v"}))
}

func TestMetadataClone_Independent(t *testing.T) {
	orig := Metadata{
		"topic": "billing",
		"tags":  []interface{}{"a"},
	}
	dup := orig.Clone()
	dup["topic"] = "shipping"
	dup["tags"].([]interface{})[0] = "z"

	require.Equal(t, "billing", orig.Topic())
	require.Equal(t, "a", orig["tags"].([]interface{})[0])
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{
		KeyTopic:     "billing",
		KeyCategory:  "issue",
		KeyRole:      "user",
		KeyKind:      KindThreadSummary,
		KeyEntities:  []interface{}{"Stripe", 7, "Invoice"},
		KeySourceIDs: []interface{}{1.0, 2.0, 3.0},
		KeyTrimmed:   true,
	}

	require.Equal(t, "billing", m.Topic())
	require.Equal(t, "issue", m.Category())
	require.Equal(t, "user", m.Role())
	require.Equal(t, KindThreadSummary, m.Kind())
	require.Equal(t, []string{"Stripe", "Invoice"}, m.Entities())
	require.Equal(t, []int64{1, 2, 3}, m.SourceIDs())
	require.True(t, m.Trimmed())
	require.False(t, m.Summarized())
}
