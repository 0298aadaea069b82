package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	msg, errObj := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	require.Nil(t, errObj)
	req, ok := msg.(Request)
	require.True(t, ok)
	assert.Equal(t, "tools/list", req.Method)
	assert.EqualValues(t, 1, req.ID)
}

func TestParseNotification(t *testing.T) {
	msg, errObj := Parse([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.Nil(t, errObj)
	_, ok := msg.(Notification)
	assert.True(t, ok)
}

func TestParseNotificationWithNullID(t *testing.T) {
	msg, errObj := Parse([]byte(`{"jsonrpc":"2.0","id":null,"method":"ping"}`))
	require.Nil(t, errObj)
	_, ok := msg.(Notification)
	assert.True(t, ok, "null id must be treated as a notification, not a request")
}

func TestParseResponse(t *testing.T) {
	msg, errObj := Parse([]byte(`{"jsonrpc":"2.0","id":"abc","result":{"ok":true}}`))
	require.Nil(t, errObj)
	resp, ok := msg.(Response)
	require.True(t, ok)
	assert.Equal(t, "abc", resp.ID)
}

func TestParseErrorResponse(t *testing.T) {
	msg, errObj := Parse([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"nope"}}`))
	require.Nil(t, errObj)
	resp, ok := msg.(ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestParseBatch(t *testing.T) {
	msg, errObj := Parse([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"notify"}]`))
	require.Nil(t, errObj)
	batch, ok := msg.(BatchRequest)
	require.True(t, ok)
	require.Len(t, batch, 2)
	_, isReq := batch[0].(Request)
	_, isNotif := batch[1].(Notification)
	assert.True(t, isReq)
	assert.True(t, isNotif)
}

func TestParseEmptyBatchIsInvalid(t *testing.T) {
	_, errObj := Parse([]byte(`[]`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestParseMalformedJSON(t *testing.T) {
	_, errObj := Parse([]byte(`{not json`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeParseError, errObj.Code)
}

func TestParseStructurallyInvalid(t *testing.T) {
	_, errObj := Parse([]byte(`{"jsonrpc":"2.0"}`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestEncodeResponseNeverNullResult(t *testing.T) {
	b, err := Encode(NewResponse(1, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(b))
}

func TestEncodeErrorResponse(t *testing.T) {
	b, err := Encode(NewErrorResponse(1, &Error{Code: CodeMethodNotFound, Message: "no such method"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"no such method"}}`, string(b))
}

func TestAsMcpErrorDefaultsToInternal(t *testing.T) {
	me := AsMcpError(assertErr{})
	assert.Equal(t, CodeInternalError, me.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
