package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsValid(t *testing.T) {
	for _, s := range ValidStatuses {
		t.Run(s.String(), func(t *testing.T) {
			assert.True(t, s.IsValid())
		})
	}
	assert.False(t, Status(7).IsValid())
	assert.Equal(t, "status(7)", Status(7).String())
}

func TestSignal_MarshalsWithoutPayload(t *testing.T) {
	b, err := json.Marshal(Signal{Status: StatusReady})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":1}`, string(b))

	b, err = json.Marshal(Signal{Status: StatusLoading})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":0}`, string(b))
}

func TestResponse_NilNegativeIsNull(t *testing.T) {
	b, err := json.Marshal(Response{Status: StatusReady, Positive: []float32{0.5, -1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":1,"positive":[0.5,-1],"negative":null}`, string(b))
}

func TestResponse_CarriesID(t *testing.T) {
	b, err := json.Marshal(Response{ID: "r1", Status: StatusReady, Positive: []float32{1}, Negative: []float32{2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","status":1,"positive":[1],"negative":[2]}`, string(b))
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		malformed bool
		negative  bool
	}{
		{name: "positive only", input: `{"positive":"a cat","negative":""}`},
		{name: "negative omitted", input: `{"positive":"a cat"}`},
		{name: "both", input: `{"positive":"a cat","negative":"a dog"}`, negative: true},
		{name: "empty positive is still present", input: `{"positive":""}`},
		{name: "missing positive", input: `{"negative":"a dog"}`, malformed: true, negative: true},
		{name: "not json", input: `hello`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tc.input))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.malformed {
				assert.ErrorIs(t, req.Validate(), ErrMissingPositive)
			} else {
				assert.NoError(t, req.Validate())
			}
			assert.Equal(t, tc.negative, req.WantsNegative())
		})
	}
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "", RequestID(Signal{Status: StatusReady}))
	assert.Equal(t, "a", RequestID(Response{ID: "a"}))
	assert.Equal(t, "b", RequestID(&ErrorResponse{ID: "b"}))
}
