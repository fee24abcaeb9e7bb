package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList(t *testing.T) {
	v, err := StringList{"T-1", "T-2"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["T-1","T-2"]`, v)

	v, err = StringList(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var l StringList
	require.NoError(t, l.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, StringList{"a", "b"}, l)

	require.NoError(t, l.Scan(`["c"]`))
	assert.Equal(t, StringList{"c"}, l)

	require.NoError(t, l.Scan(nil))
	assert.Nil(t, l)

	assert.Error(t, l.Scan(42))
	assert.Error(t, l.Scan("{not json"))
}
