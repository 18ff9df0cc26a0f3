package types_test

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/taskflow/types"
)

type testStruct struct {
	Name   string
	Age    int
	IsMale bool
}

func TestData(t *testing.T) {
	data := &types.Data{}

	data.Set("teststruct1", testStruct{"hello", 4, false})
	data.Set("teststruct2", testStruct{"kitty", 5, true})

	hello := &testStruct{}
	kitty := &testStruct{}
	assert.Nil(t, data.GetStruct("teststruct1", hello))
	assert.Nil(t, data.GetStruct("teststruct2", kitty))

	assert.Equal(t, "hello", hello.Name)
	assert.Equal(t, 4, hello.Age)
	assert.Equal(t, false, hello.IsMale)

	assert.Equal(t, "kitty", kitty.Name)
	assert.Equal(t, 5, kitty.Age)
	assert.Equal(t, true, kitty.IsMale)

	data.Set("s1", 1)
	data.Set("s2", "2")
	data.Set("s3", math.Pi)
	data.Set("s4", true)

	_, exists := data.Get("s0")
	assert.False(t, exists)

	s, exists := data.GetString("s1")
	assert.True(t, exists)
	assert.Equal(t, "1", s)
	s, exists = data.GetString("s2")
	assert.True(t, exists)
	assert.Equal(t, "2", s)
	s, exists = data.GetString("s3")
	assert.True(t, exists)
	assert.Equal(t, strconv.FormatFloat(math.Pi, 'f', -1, 64), s)
	s, exists = data.GetString("s4")
	assert.True(t, exists)
	assert.Equal(t, "true", s)
}

func TestData_Getters(t *testing.T) {
	data := types.Data{
		"int":      "42",
		"float":    "2.5",
		"bool":     "true",
		"duration": "90s",
		"slice":    []any{"a", "b"},
	}

	i, ok := data.GetInt("int")
	assert.True(t, ok)
	assert.Equal(t, 42, i)

	i64, ok := data.GetInt64("int")
	assert.True(t, ok)
	assert.Equal(t, int64(42), i64)

	f, ok := data.GetFloat64("float")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	b, ok := data.GetBool("bool")
	assert.True(t, ok)
	assert.True(t, b)

	d, ok := data.GetDuration("duration")
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	ss, ok := data.GetStringSlice("slice")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ss)

	data.Delete("int")
	_, ok = data.GetInt("int")
	assert.False(t, ok)
}

func TestData_GetStructMissing(t *testing.T) {
	data := types.Data{}
	err := data.GetStruct("none", &testStruct{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestData_SetOnNil(t *testing.T) {
	var data types.Data
	data.Set("k", "v")
	v, ok := data.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestData_Clone(t *testing.T) {
	var empty types.Data
	assert.Nil(t, empty.Clone())

	data := types.Data{"a": 1}
	c := data.Clone()
	c.Set("b", 2)
	assert.Len(t, data, 1)
	assert.Len(t, c, 2)
}
