package gateway

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileID(t *testing.T) {
	for _, tc := range []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{name: "float", in: float64(7), want: 7},
		{name: "zero", in: float64(0), want: 0},
		{name: "int", in: 3, want: 3},
		{name: "uint64", in: uint64(12), want: 12},
		{name: "int64", in: int64(9), want: 9},
		{name: "json number", in: json.Number("42"), want: 42},
		{name: "fraction", in: 1.5, wantErr: true},
		{name: "nan", in: math.NaN(), wantErr: true},
		{name: "inf", in: math.Inf(1), wantErr: true},
		{name: "negative", in: float64(-1), wantErr: true},
		{name: "too large", in: float64(1 << 54), wantErr: true},
		{name: "huge uint64", in: uint64(math.MaxUint64), wantErr: true},
		{name: "string", in: "1", wantErr: true},
		{name: "missing", in: nil, wantErr: true},
		{name: "bad json number", in: json.Number("x"), wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFileID(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseBaseVersion(t *testing.T) {
	v, err := ParseBaseVersion(float64(12))
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	_, err = ParseBaseVersion(math.Inf(-1))
	assert.EqualError(t, err, "baseVersion must be a finite integer")
	_, err = ParseBaseVersion(nil)
	assert.Error(t, err)
}

func TestErrorMessageDropsUnencodableFileID(t *testing.T) {
	msg := ErrorMessage(math.NaN(), "bad")
	assert.Nil(t, msg.FileID)
	_, err := json.Marshal(msg)
	require.NoError(t, err)

	msg = ErrorMessage("abc", "bad")
	assert.Equal(t, "abc", msg.FileID)
}

func TestMessageJSONShape(t *testing.T) {
	raw, err := json.Marshal(ReadyMessage(3, 0, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ready","fileId":3,"version":0,"content":""}`, string(raw))

	raw, err = json.Marshal(ResyncMessage(3, 8))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"resync","fileId":3,"version":8}`, string(raw))

	raw, err = json.Marshal(ErrorMessage(nil, "fileId must be a finite integer"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","fileId":null,"message":"fileId must be a finite integer"}`, string(raw))
}

func TestValidateClientID(t *testing.T) {
	for _, ok := range []any{nil, "c1", float64(3), map[string]any{"tab": 1}, []any{"a", true}} {
		assert.NoError(t, ValidateClientID(ok), "%#v", ok)
	}
	for _, bad := range []any{math.NaN(), math.Inf(-1), map[any]any{1: "x"}, []any{math.NaN()}} {
		assert.Error(t, ValidateClientID(bad), "%#v", bad)
	}
}
