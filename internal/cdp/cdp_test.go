// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package cdp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/cdp"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

func TestEncodeRequest(t *testing.T) {
	data, err := cdp.Encode(7, cdp.MethodNavigate, cdp.NavigateParams{URL: "https://example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"method":"Page.navigate","params":{"url":"https://example.com"}}`, string(data))

	data, err = cdp.Encode(8, cdp.EnableMethod("Page"), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":8,"method":"Page.enable"}`, string(data))
}

func TestDecodeReplyWithResult(t *testing.T) {
	f, err := cdp.Decode([]byte(`{"id":3,"result":{"targetId":"T1"}}`))
	require.NoError(t, err)
	assert.Equal(t, cdp.KindReply, f.Kind)
	assert.Equal(t, int64(3), f.ID)
	assert.NoError(t, f.Err(cdp.MethodCreateTarget))

	res, err := cdp.DecodeResult[cdp.CreateTargetResult](f.Result)
	require.NoError(t, err)
	assert.Equal(t, "T1", res.TargetID)
}

func TestDecodeReplyWithProtocolError(t *testing.T) {
	f, err := cdp.Decode([]byte(`{"id":4,"error":{"code":-32601,"message":"'Foo.bar' wasn't found"}}`))
	require.NoError(t, err)

	perr := f.Err("Foo.bar")
	require.Error(t, perr)
	assert.True(t, tetherr.IsProtocol(perr))
	assert.Equal(t, -32601, tetherr.FieldsOf(perr)["cdp_code"])
	assert.Contains(t, perr.Error(), "wasn't found")
}

func TestDecodeIDZeroIsReply(t *testing.T) {
	f, err := cdp.Decode([]byte(`{"id":0,"result":{}}`))
	require.NoError(t, err)
	assert.Equal(t, cdp.KindReply, f.Kind)
}

func TestDecodeEvent(t *testing.T) {
	f, err := cdp.Decode([]byte(`{"method":"Page.loadEventFired","params":{"timestamp":1.5}}`))
	require.NoError(t, err)
	assert.Equal(t, cdp.KindEvent, f.Kind)
	assert.Equal(t, cdp.EventLoadEventFired, f.Method)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := cdp.Decode([]byte(`not json`))
	assert.Equal(t, tetherr.CodeCDPFrameInvalid, tetherr.CodeOf(err))

	_, err = cdp.Decode([]byte(`{"params":{}}`))
	assert.Equal(t, tetherr.CodeCDPFrameInvalid, tetherr.CodeOf(err))
}
