package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateUserDTO_NullClearsAbsentKeeps(t *testing.T) {
	var d UpdateUserDTO
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Ann Lee","bio":null}`), &d))

	assert.True(t, d.ClearBio)
	assert.False(t, d.ClearPhoneNumber)
	assert.Equal(t, map[string]any{"name": "Ann Lee", "bio": nil}, d.Changes())
}

func TestUpdateUserDTO_ValueSetsColumn(t *testing.T) {
	var d UpdateUserDTO
	require.NoError(t, json.Unmarshal([]byte(`{"bio":"hi","phoneNumber":null}`), &d))

	assert.False(t, d.ClearBio)
	assert.Equal(t, map[string]any{"bio": "hi", "phone_number": nil}, d.Changes())
}

func TestUpdateUserDTO_EmptyBodyHasNoChanges(t *testing.T) {
	var d UpdateUserDTO
	require.NoError(t, json.Unmarshal([]byte(`{}`), &d))
	assert.Empty(t, d.Changes())
}

func TestUpdateUserDTO_RejectsNonObject(t *testing.T) {
	var d UpdateUserDTO
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &d))
}
