package scopus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexList(t *testing.T) {
	t.Run("decodes array", func(t *testing.T) {
		var list FlexList[RawISSN]
		err := json.Unmarshal([]byte(`[{"@type":"print","$":"1234-5678"},{"@type":"electronic","$":"8765-4321"}]`), &list)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "print", list[0].Type)
		assert.Equal(t, "8765-4321", string(list[1].Value))
	})

	t.Run("decodes single object as one-element list", func(t *testing.T) {
		var list FlexList[RawISSN]
		err := json.Unmarshal([]byte(`{"@type":"print","$":"1234-5678"}`), &list)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "1234-5678", string(list[0].Value))
	})

	t.Run("decodes null as nil", func(t *testing.T) {
		var list FlexList[RawISSN]
		err := json.Unmarshal([]byte(`null`), &list)
		require.NoError(t, err)
		assert.Nil(t, list)
	})
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare string", `"machine learning"`, "machine learning"},
		{"wrapper object", `{"$":"machine learning"}`, "machine learning"},
		{"nested wrapper", `{"$":{"$":"deep"}}`, "deep"},
		{"integer", `42`, "42"},
		{"null", `null`, ""},
		{"empty wrapper", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexString
			err := json.Unmarshal([]byte(tt.input), &f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.String())
		})
	}
}

func TestFlexStringPtr(t *testing.T) {
	assert.Nil(t, FlexString("").Ptr())

	p := FlexString("value").Ptr()
	require.NotNil(t, p)
	assert.Equal(t, "value", *p)
}

func TestCoreDataHelpers(t *testing.T) {
	t.Run("cited by count", func(t *testing.T) {
		assert.Equal(t, 17, (&CoreData{CitedByCount: "17"}).CitedBy())
		assert.Equal(t, 0, (&CoreData{CitedByCount: ""}).CitedBy())
		assert.Equal(t, 0, (&CoreData{CitedByCount: "abc"}).CitedBy())
	})

	t.Run("open access flag", func(t *testing.T) {
		assert.True(t, (&CoreData{OpenAccess: "2"}).IsOpenAccess())
		assert.False(t, (&CoreData{OpenAccess: "0"}).IsOpenAccess())
		assert.False(t, (&CoreData{}).IsOpenAccess())
	})

	t.Run("publication year", func(t *testing.T) {
		assert.Equal(t, 2023, (&CoreData{CoverDate: "2023-06-15"}).Year())
		assert.Equal(t, 0, (&CoreData{CoverDate: ""}).Year())
		assert.Equal(t, 0, (&CoreData{CoverDate: "xx"}).Year())
	})
}

func TestRawAuthorHelpers(t *testing.T) {
	author := RawAuthor{
		Seq:           "3",
		PreferredName: &PreferredName{GivenName: "Ada"},
	}
	assert.Equal(t, 3, author.Sequence())
	assert.Equal(t, "Ada", author.GivenName())

	empty := RawAuthor{}
	assert.Equal(t, 0, empty.Sequence())
	assert.Equal(t, "", empty.GivenName())
}

func TestRawReferenceSequence(t *testing.T) {
	assert.Equal(t, 12, (&RawReference{ID: "12"}).Sequence())
	assert.Equal(t, 0, (&RawReference{}).Sequence())
}
