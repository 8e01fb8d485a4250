package carton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRenames(t *testing.T) {
	rules := []RenameRule{{OldName: "a", NewName: "b"}}

	out := applyRenames(rules, []Record{
		{"a": 1, "c": 2},
		{"c": 3},
		{"a": "x", "b2": true},
	})
	require.Len(t, out, 3)
	assert.Equal(t, Record{"b": 1, "c": 2}, out[0])
	assert.Equal(t, Record{"c": 3}, out[1])
	assert.Equal(t, Record{"b": "x", "b2": true}, out[2])
}

func TestApplyRenamesMultipleRules(t *testing.T) {
	rules := []RenameRule{
		{OldName: "first", NewName: "fname"},
		{OldName: "last", NewName: "lname"},
	}
	out := applyRenames(rules, []Record{
		{"first": "ada", "last": "lovelace", "age": 36},
	})
	assert.Equal(t, Record{"fname": "ada", "lname": "lovelace", "age": 36}, out[0])
}

func TestApplyRenamesDoesNotMutateInput(t *testing.T) {
	rules := []RenameRule{{OldName: "a", NewName: "b"}}
	in := []Record{{"a": 1}}
	_ = applyRenames(rules, in)
	assert.Equal(t, Record{"a": 1}, in[0])
}

func TestApplyRenamesPreservesOrder(t *testing.T) {
	rules := []RenameRule{{OldName: "k", NewName: "n"}}
	in := []Record{{"k": 1}, {"k": 2}, {"k": 3}}
	out := applyRenames(rules, in)
	require.Len(t, out, 3)
	for i, rec := range out {
		assert.Equal(t, i+1, rec["n"])
	}
}

func TestApplyRenamesNoRules(t *testing.T) {
	in := []Record{{"a": 1}}
	assert.Equal(t, in, applyRenames(nil, in))
}
