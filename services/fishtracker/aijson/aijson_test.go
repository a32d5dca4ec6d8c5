// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aijson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"upper fence", "```JSON\n[1,2]\n```", `[1,2]`},
		{"backticks", "`{\"a\":1}`", `{"a":1}`},
		{"whitespace", "  \n hello \n", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestExtract(t *testing.T) {
	got, err := Extract(`Sure! Here it is: {"hasFish": true} hope that helps`)
	require.NoError(t, err)
	assert.Equal(t, `{"hasFish": true}`, got)

	got, err = Extract(`list: [{"a":1},{"b":2}] done`)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":1},{"b":2}]`, got)

	_, err = Extract("no json at all")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = Extract("only { an opener")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecode(t *testing.T) {
	var out struct {
		FishName string `json:"fishName"`
	}
	require.NoError(t, Decode("```json\n{\"fishName\": \"Koi\",}\n```", &out))
	assert.Equal(t, "Koi", out.FishName)

	assert.Error(t, Decode("I cannot see a fish", &out))
	assert.Error(t, Decode("{not json}", &out))
}

func TestRaw(t *testing.T) {
	b, err := Raw("text {\"a\": [1,2,],} more")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2]}`, string(b))

	_, err = Raw("{broken")
	assert.Error(t, err)
}

func TestFixTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a":[1,2]}`, FixTrailingCommas(`{"a":[1,2,],}`))
	assert.Equal(t, `{"a":1 }`, FixTrailingCommas(`{"a":1 , }`))
}

func TestParseLenient(t *testing.T) {
	t.Run("prose stays text", func(t *testing.T) {
		v, parsed, cleaned := ParseLenient("You have seen a Clownfish.")
		assert.False(t, parsed)
		assert.Equal(t, "You have seen a Clownfish.", v)
		assert.Equal(t, "You have seen a Clownfish.", cleaned)
	})

	t.Run("fenced object parses", func(t *testing.T) {
		v, parsed, _ := ParseLenient("```json\n{\"answer\": \"yes\"}\n```")
		require.True(t, parsed)
		assert.Equal(t, map[string]any{"answer": "yes"}, v)
	})

	t.Run("trailing comma repaired", func(t *testing.T) {
		v, parsed, _ := ParseLenient(`[1, 2, ]`)
		require.True(t, parsed)
		assert.Equal(t, []any{1.0, 2.0}, v)
	})

	t.Run("json-looking garbage stays text", func(t *testing.T) {
		v, parsed, _ := ParseLenient(`{definitely not json}`)
		assert.False(t, parsed)
		assert.Equal(t, `{definitely not json}`, v)
	})
}
