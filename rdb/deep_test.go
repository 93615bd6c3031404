package rdb

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeepDiff(t *testing.T) {
	now := time.Now()
	for _, c := range []struct {
		a, b any
		diff bool
	}{
		{nil, nil, false},
		{nil, 0, true},
		{1, int64(1), false},
		{1, 1.0, false},
		{1, 1.5, true},
		{uint8(3), 3, false},
		{"a", "a", false},
		{"a", "b", true},
		{true, false, true},
		{now, now.UTC(), false},
		{now, now.Add(time.Millisecond), true},
		{now, "now", true},
		{map[string]any{"a": []any{1, "x"}}, map[string]any{"a": []any{1.0, "x"}}, false},
		{map[string]any{"a": 1}, map[string]any{"b": 1}, true},
		{map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}, true},
		{[]any{1, 2}, []any{1, 2, 3}, true},
		{[]any{1, 2}, []any{2, 1}, true},
		{[]string{"a"}, []any{"a"}, false},
		{map[string]any{"a": nil}, map[string]any{"a": 0}, true},
	} {
		assert.Equal(t, c.diff, deepDiff(c.a, c.b), "%v <> %v", c.a, c.b)
	}
}

func TestDeepCopy(t *testing.T) {
	src := map[string]any{"a": []any{1, map[string]any{"b": "c"}}, "d": nil}
	dst := deepCopy(src).(map[string]any)
	assert.Equal(t, src, dst)

	dst["a"].([]any)[1].(map[string]any)["b"] = "x"
	assert.Equal(t, "c", src["a"].([]any)[1].(map[string]any)["b"])

	strs := []string{"a", "b"}
	copied := deepCopy(strs).([]string)
	copied[0] = "z"
	assert.Equal(t, "a", strs[0])

	ints := map[string]int{"a": 1}
	copiedInts := deepCopy(ints).(map[string]int)
	copiedInts["a"] = 2
	assert.Equal(t, 1, ints["a"])

	var nilSlice []string
	assert.Nil(t, deepCopy(nilSlice))
	assert.Nil(t, deepCopy(nil))
	assert.Equal(t, 3, deepCopy(3))
}

func TestNormalize(t *testing.T) {
	n := int32(5)
	for _, c := range []struct {
		native Native
		value  any
		expect any
		ok     bool
	}{
		{NativeInt, int64(5), 5, true},
		{NativeInt, &n, 5, true},
		{NativeInt, 5.0, nil, false},
		{NativeInt64, 5, int64(5), true},
		{NativeFloat64, 5, 5.0, true},
		{NativeFloat64, "5", nil, false},
		{NativeString, "s", "s", true},
		{NativeString, 1, nil, false},
		{NativeBool, true, true, true},
		{NativeBool, 1, false, false},
		{NativeJSON, []any{1}, []any{1}, true},
		{NativeTime, "2020", nil, false},
		{NativeString, nil, nil, true},
	} {
		value, ok := normalize(c.native, c.value)
		assert.Equal(t, c.ok, ok, "%v %v", c.native, c.value)
		if ok {
			assert.Equal(t, c.expect, value)
		}
	}
}

func TestDefaultMatches(t *testing.T) {
	assert.True(t, defaultMatches(NativeInt, int16(1)))
	assert.False(t, defaultMatches(NativeInt, int64(1)))
	assert.True(t, defaultMatches(NativeInt64, int64(1)))
	assert.False(t, defaultMatches(NativeInt64, 1))
	assert.True(t, defaultMatches(NativeFloat64, 1))
	assert.True(t, defaultMatches(NativeJSON, "x"))
	assert.False(t, defaultMatches(NativeBool, "true"))
	assert.True(t, defaultMatches(NativeTime, time.Now()))

	assert.True(t, isNullValue(Null))
	assert.True(t, isNullValue((*int)(nil)))
	assert.True(t, isNullValue(map[string]any(nil)))
	assert.False(t, isNullValue(0))
}

func TestEscapeAttribute(t *testing.T) {
	escape := func(value any) (string, error) {
		if value == nil {
			return "", ErrEscapeNull
		}
		return fmt.Sprintf("[%v]", value), nil
	}
	meta := &Attribute{Type: JSON(), AttributeName: "meta"}
	title := &Attribute{Type: VarChar(), AttributeName: "title"}

	s, err := EscapeAttribute(escape, meta, "abc")
	assert.NoError(t, err)
	assert.Equal(t, `["abc"]`, s)

	s, err = EscapeAttribute(escape, meta, map[string]any{"a": []any{1}})
	assert.NoError(t, err)
	assert.Equal(t, `[{"a":[1]}]`, s)

	s, err = EscapeAttribute(escape, title, "abc")
	assert.NoError(t, err)
	assert.Equal(t, "[abc]", s)

	_, err = EscapeAttribute(escape, meta, nil)
	assert.Equal(t, ErrEscapeNull, err)

	_, err = EscapeAttribute(escape, meta, make(chan int))
	assert.Error(t, err)
}
