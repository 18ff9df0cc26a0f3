package utils

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneMap(t *testing.T) {
	assert.Nil(t, CloneMap[string, int](nil))

	m := map[string]int{"a": 1}
	c := CloneMap(m)
	c["b"] = 2
	assert.Equal(t, map[string]int{"a": 1}, m)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, c)
}

func TestSerialize(t *testing.T) {
	type record struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	b, err := Serialize(record{Name: "x", N: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","n":3}`, string(b))

	var r record
	require.NoError(t, Unserialize(b, &r))
	assert.Equal(t, record{Name: "x", N: 3}, r)

	assert.Error(t, Unserialize([]byte("{"), &r))
	assert.True(t, errors.Is(Unserialize(nil, &r), errors.NotValid))

	_, err = Serialize(make(chan int))
	assert.Error(t, err)
}
