package message

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestEncodeArgs(t *testing.T) {
	args, err := EncodeArgs("hi", &AddArgs{A: 1, B: 2}, nil)
	require.NoError(t, err)
	require.Len(t, args, 3)

	assert.Equal(t, `"hi"`, string(args[0]))
	assert.Equal(t, `{"a":1,"b":2}`, string(args[1]))
	assert.Equal(t, `null`, string(args[2]))

	var decoded AddArgs
	require.NoError(t, DecodeValue(args[1], &decoded))
	assert.Equal(t, AddArgs{A: 1, B: 2}, decoded)
}

func TestResponseExactlyOne(t *testing.T) {
	ok := NewResult(7, nil)
	assert.False(t, ok.Failed())
	assert.Equal(t, "null", string(ok.Result))

	failed := NewError(7, CodeBusiness, "boom %d", 1)
	assert.True(t, failed.Failed())
	assert.Nil(t, failed.Result)
	assert.Equal(t, "boom 1", failed.Error.Message)
}

func TestDescriptorOf(t *testing.T) {
	wrapped := fmt.Errorf("calling: %w", Errorf(CodeRateLimited, "slow down"))
	d := DescriptorOf(wrapped, CodeBusiness)
	assert.Equal(t, CodeRateLimited, d.Code)

	d = DescriptorOf(errors.New("plain"), CodeBusiness)
	assert.Equal(t, CodeBusiness, d.Code)
	assert.Equal(t, "plain", d.Message)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "request", (&Request{}).Kind().String())
	assert.Equal(t, "response", (&Response{}).Kind().String())
	assert.Equal(t, "heartbeat", Heartbeat{}.Kind().String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
