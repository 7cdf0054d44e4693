package spawn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadDecode(t *testing.T) {
	p, err := NewPayload(map[string]any{"name": "Kevin", "n": 3})
	require.NoError(t, err)
	assert.False(t, p.Absent())

	var got struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, p.Decode(&got))
	assert.Equal(t, "Kevin", got.Name)
	assert.Equal(t, 3, got.N)
}

func TestPayloadRawIsACopy(t *testing.T) {
	p, err := NewPayload([]int{1, 2})
	require.NoError(t, err)

	raw := p.Raw()
	raw[1] = '9'
	assert.Equal(t, "[1,2]", p.String())
}

func TestEncodePayload(t *testing.T) {
	raw, err := encodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = encodePayload(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	_, err = encodePayload(json.RawMessage(`{"a":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	inner, err := NewPayload("x")
	require.NoError(t, err)
	raw, err = encodePayload(inner)
	require.NoError(t, err)
	assert.Equal(t, `"x"`, string(raw))

	_, err = encodePayload(make(chan int))
	assert.Error(t, err)
}

func TestFaultError(t *testing.T) {
	assert.Equal(t, "boom", Fault{Message: "boom"}.Error())
	assert.Equal(t, "boom (event greet)", Fault{Message: "boom", Event: "greet"}.Error())
	assert.Equal(t, "boom (script http://x/a.js)", Fault{Message: "boom", Event: EventImport, Script: "http://x/a.js"}.Error())

	f := faultFromPanic("kaboom", "greet")
	assert.Equal(t, "kaboom", f.Message)
	assert.Equal(t, "greet", f.Event)
	assert.NotEmpty(t, f.Stack)
}
