package message

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorInfoRoundTrip(t *testing.T) {
	resp := FailRemote("ValueError", "boom", nil)
	require.False(t, resp.OK)

	err := resp.Err.Err()
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "ValueError", re.Type)
	assert.Equal(t, "boom", err.Error())
}

func TestCallErrorKindMatching(t *testing.T) {
	err := Fail(KindConnectionClosed, "read tcp 127.0.0.1: use of closed network connection").Err.Err()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.NotErrorIs(t, err, ErrCallTimeout)
}

func TestSuccessCarriesResult(t *testing.T) {
	resp := Success([]byte(`5`))
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Err)
	assert.Equal(t, []byte(`5`), resp.Result)
	assert.NoError(t, resp.Err.Err())
}

type boomError struct{ msg string }

func (e *boomError) Error() string { return e.msg }

func TestErrorTypeName(t *testing.T) {
	assert.Equal(t, "boomError", ErrorTypeName(&boomError{msg: "x"}))

	// A proxied remote failure keeps its original type name.
	proxied := &RemoteError{Type: "ValueError", Message: "boom"}
	assert.Equal(t, "ValueError", ErrorTypeName(fmt.Errorf("hop: %w", proxied)))

	assert.Equal(t, "errorString", ErrorTypeName(errors.New("plain")))
}
