package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValue(t *testing.T) {
	t.Run("Nil metadata is stored as empty object", func(t *testing.T) {
		var m Metadata
		value, err := m.Value()

		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), value)
	})

	t.Run("Value returns marshaled JSON", func(t *testing.T) {
		m := Metadata{"source": "lessons.md"}
		value, err := m.Value()

		require.NoError(t, err)
		assert.JSONEq(t, `{"source":"lessons.md"}`, string(value.([]byte)))
	})
}

func TestMetadataScan(t *testing.T) {
	t.Run("Scan from JSON bytes", func(t *testing.T) {
		var m Metadata
		err := m.Scan([]byte(`{"source":"lessons.md","line":12}`))

		require.NoError(t, err)
		assert.Equal(t, "lessons.md", m["source"])
		assert.Equal(t, float64(12), m["line"])
	})

	t.Run("Scan from string", func(t *testing.T) {
		var m Metadata
		err := m.Scan(`{"a":"b"}`)

		require.NoError(t, err)
		assert.Equal(t, "b", m["a"])
	})

	t.Run("Scan from nil", func(t *testing.T) {
		m := Metadata{"stale": true}
		err := m.Scan(nil)

		require.NoError(t, err)
		assert.Empty(t, m)
	})

	t.Run("Scan invalid JSON", func(t *testing.T) {
		var m Metadata
		assert.Error(t, m.Scan([]byte(`{not json`)))
	})

	t.Run("Scan invalid type", func(t *testing.T) {
		var m Metadata
		err := m.Scan(42)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported type int")
	})
}
