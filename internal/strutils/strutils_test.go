// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package strutils

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrutil_ListContains(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	haystack := []string{
		"openid",
		"email",
		"profile",
	}
	require.False(StrListContains(haystack, "drive"))
	require.True(StrListContains(haystack, "email"))
}

func TestStrUtil_RemoveDuplicatesStable(t *testing.T) {
	type tCase struct {
		input           []string
		expect          []string
		caseInsensitive bool
	}

	tCases := []tCase{
		{[]string{}, []string{}, false},
		{[]string{}, []string{}, true},
		{[]string{"a", "b", "a"}, []string{"a", "b"}, false},
		{[]string{"A", "b", "a"}, []string{"A", "b", "a"}, false},
		{[]string{"A", "b", "a"}, []string{"A", "b"}, true},
		{[]string{" ", "d", "c", "d"}, []string{"d", "c"}, false},
	}

	for _, tc := range tCases {
		actual := RemoveDuplicatesStable(tc.input, tc.caseInsensitive)

		if !reflect.DeepEqual(actual, tc.expect) {
			t.Fatalf("Bad testcase %#v, expected %v, got %v", tc, tc.expect, actual)
		}
	}
}

func TestStrUtil_Union(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal([]string{"email", "profile", "openid"}, Union([]string{"email", "profile"}, []string{"openid", "email"}))
	assert.Equal([]string{"drive"}, Union(nil, []string{"drive", ""}))
	assert.Empty(Union(nil, nil))
}

func TestStrUtil_Subset(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.True(Subset([]string{"a", "b"}, []string{"b"}))
	assert.True(Subset([]string{"a"}, nil))
	assert.False(Subset([]string{"a"}, []string{"a", "c"}))
}
