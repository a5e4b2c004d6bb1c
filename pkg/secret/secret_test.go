package secret

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevealRoundtrip(t *testing.T) {
	s := New("hunter2")
	assert.Equal(t, "hunter2", s.Reveal())
}

func TestStringRedacts(t *testing.T) {
	s := New("hunter2")
	assert.Equal(t, "[redacted]", s.String())
	assert.Equal(t, "", New("").String())
}

func TestMarshalJSONRedacts(t *testing.T) {
	s := New("hunter2")
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[redacted]"`, string(b))

	type wrapper struct {
		Password String `json:"password"`
	}
	out, err := json.Marshal(wrapper{Password: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"password":"[redacted]"}`, string(out))
}

func TestUnmarshalJSON(t *testing.T) {
	var s String
	require.NoError(t, json.Unmarshal([]byte(`"p@ss"`), &s))
	assert.Equal(t, "p@ss", s.Reveal())
}

func TestIsZero(t *testing.T) {
	assert.True(t, String{}.IsZero())
	assert.False(t, New("x").IsZero())
}
