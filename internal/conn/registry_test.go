package conn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryUnsubscribeDuringDispatch(t *testing.T) {
	r := newRegistry()
	var second int
	var unsubSecond func()
	r.add("evt", func(json.RawMessage) { unsubSecond() })
	unsubSecond = r.add("evt", func(json.RawMessage) { second++ })

	assert.Equal(t, 1, r.dispatch("evt", nil))
	assert.Equal(t, 0, second)
	assert.Equal(t, 1, r.count("evt"))
}

func TestRegistryClose(t *testing.T) {
	r := newRegistry()
	var calls int
	r.add("evt", func(json.RawMessage) { calls++ })
	r.close()

	assert.Equal(t, 0, r.dispatch("evt", nil))
	assert.Equal(t, 0, calls)
}

func TestFrameRoundTrip(t *testing.T) {
	b, err := encodeFrame("check_user_status", "p1")
	assert.NoError(t, err)
	assert.JSONEq(t, `{"event":"check_user_status","data":"p1"}`, string(b))

	f, err := decodeFrame(b)
	assert.NoError(t, err)
	assert.Equal(t, "check_user_status", f.Event)

	_, err = decodeFrame([]byte(`{"data":1}`))
	assert.Error(t, err)
	_, err = encodeFrame("", nil)
	assert.Error(t, err)
}
