package encoding

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/stretchr/testify/assert"
)

type codedError struct {
	code string
}

func (c codedError) Error() string { return "connection reset" }
func (c codedError) Code() string  { return c.code }

func TestEncodeEvent(t *testing.T) {
	t.Run("should encode byte slices as lowercase hex", func(t *testing.T) {
		event := newEvent()
		event.Caller.Props = model.Props{
			"stream": map[string]interface{}{
				"publicKey": []byte{0xAB, 0x01},
			},
		}
		data, err := EncodeEvent(event)
		assert.Nil(t, err)

		decoded, err := DecodeEvent(data)
		assert.Nil(t, err)
		stream := decoded.Caller.Props["stream"].(map[string]interface{})
		assert.Equal(t, "ab01", stream["publicKey"])
	})

	t.Run("should reduce errors to code and message", func(t *testing.T) {
		event := newEvent()
		event.Caller.Props = model.Props{
			"error": codedError{code: "ECONNRESET"},
		}
		data, err := EncodeEvent(event)
		assert.Nil(t, err)

		var raw map[string]interface{}
		assert.Nil(t, json.Unmarshal(data, &raw))
		caller := raw["caller"].(map[string]interface{})
		props := caller["props"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"code": "ECONNRESET", "message": "connection reset"}, props["error"])
	})

	t.Run("should omit the code for errors without one", func(t *testing.T) {
		event := newEvent()
		event.Props = model.Props{"failure": errors.New("boom")}
		data, err := EncodeEvent(event)
		assert.Nil(t, err)
		assert.Contains(t, string(data), `"failure":{"message":"boom"}`)
	})

	t.Run("should fail on cyclic props without panicking", func(t *testing.T) {
		cyclic := map[string]interface{}{}
		cyclic["self"] = cyclic
		event := newEvent()
		event.Object.Props = model.Props{"loop": cyclic}
		_, err := EncodeEvent(event)
		assert.ErrorIs(t, err, ErrCyclicValue)
	})

	t.Run("should fail on values json cannot represent", func(t *testing.T) {
		event := newEvent()
		event.Props = model.Props{"nan": math.NaN()}
		_, err := EncodeEvent(event)
		assert.NotNil(t, err)
	})

	t.Run("should not mutate the caller's props", func(t *testing.T) {
		raw := []byte{1, 2}
		event := newEvent()
		event.Props = model.Props{"raw": raw}
		_, err := EncodeEvent(event)
		assert.Nil(t, err)
		assert.Equal(t, raw, event.Props["raw"])
	})
}

type streamInfo struct {
	PublicKey []byte
	Err       error
}

type taggedInfo struct {
	RemoteKey  []byte `json:"remoteKey"`
	Secret     string `json:"-"`
	Optional   string `json:"optional,omitempty"`
	Status     string `json:"status"`
	unexported int
}

type baseInfo struct {
	Id string `json:"id"`
}

type embeddingInfo struct {
	baseInfo
	Name string `json:"name"`
}

func TestSanitizeShapes(t *testing.T) {
	t.Run("should hex encode every byte shaped value", func(t *testing.T) {
		event := newEvent()
		event.Caller.Props = model.Props{
			"namedKey":   ed25519.PublicKey{0xab, 0xcd, 0xef},
			"mapOfBytes": map[string][]byte{"k": {0xab, 0xcd}},
			"array":      [2]byte{0xab, 0xcd},
			"struct":     streamInfo{PublicKey: []byte{0xab, 0xcd}, Err: errors.New("boom")},
		}
		data, err := EncodeEvent(event)
		assert.Nil(t, err)

		var raw map[string]interface{}
		assert.Nil(t, json.Unmarshal(data, &raw))
		props := raw["caller"].(map[string]interface{})["props"].(map[string]interface{})
		assert.Equal(t, "abcdef", props["namedKey"])
		assert.Equal(t, map[string]interface{}{"k": "abcd"}, props["mapOfBytes"])
		assert.Equal(t, "abcd", props["array"])
		assert.Equal(t, map[string]interface{}{
			"PublicKey": "abcd",
			"Err":       map[string]interface{}{"message": "boom"},
		}, props["struct"])
	})

	t.Run("should honor json tags on struct fields", func(t *testing.T) {
		sanitized, err := Sanitize(taggedInfo{RemoteKey: []byte{0x01}, Secret: "x", Status: "open", unexported: 3})
		assert.Nil(t, err)
		assert.Equal(t, map[string]interface{}{"remoteKey": "01", "status": "open"}, sanitized)
	})

	t.Run("should promote fields of embedded structs", func(t *testing.T) {
		sanitized, err := Sanitize(embeddingInfo{baseInfo: baseInfo{Id: "7"}, Name: "swarm"})
		assert.Nil(t, err)
		assert.Equal(t, map[string]interface{}{"id": "7", "name": "swarm"}, sanitized)

		sanitized, err = Sanitize(struct {
			streamInfo
			Name string
		}{streamInfo: streamInfo{PublicKey: []byte{0xff}}, Name: "a"})
		assert.Nil(t, err)
		assert.Equal(t, map[string]interface{}{"PublicKey": "ff", "Err": nil, "Name": "a"}, sanitized)
	})

	t.Run("should walk pointers, nested slices and non string map keys", func(t *testing.T) {
		key := ed25519.PublicKey{0x0a}
		sanitized, err := Sanitize(map[int][]interface{}{
			1: {&key, []error{errors.New("a")}, [][]byte{{0x01}}},
		})
		assert.Nil(t, err)
		assert.Equal(t, map[string]interface{}{
			"1": []interface{}{
				"0a",
				[]interface{}{ErrorInfo{Message: "a"}},
				[]interface{}{"01"},
			},
		}, sanitized)
	})

	t.Run("should keep values that marshal themselves", func(t *testing.T) {
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		sanitized, err := Sanitize(map[string]interface{}{"at": at})
		assert.Nil(t, err)
		assert.Equal(t, map[string]interface{}{"at": at}, sanitized)
	})

	t.Run("should detect cycles through pointers", func(t *testing.T) {
		type node struct {
			Next *node
		}
		n := &node{}
		n.Next = n
		_, err := Sanitize(n)
		assert.ErrorIs(t, err, ErrCyclicValue)
	})

	t.Run("should reject values json cannot represent", func(t *testing.T) {
		_, err := Sanitize(map[string]interface{}{"ch": make(chan int)})
		assert.ErrorIs(t, err, ErrUnsupportedValue)
	})
}

func TestHandshake(t *testing.T) {
	t.Run("should encode an empty session as nulls", func(t *testing.T) {
		data, err := EncodeHandshake(model.Handshake{})
		assert.Nil(t, err)
		assert.JSONEq(t, `{"lastSeenTraceSessionId":null,"lastSeenTraceNumber":null}`, string(data))
	})

	t.Run("should round trip a resume cursor", func(t *testing.T) {
		sessionId := "abc"
		number := uint64(41)
		data, err := EncodeHandshake(model.Handshake{LastSeenTraceSessionId: &sessionId, LastSeenTraceNumber: &number})
		assert.Nil(t, err)
		handshake, err := DecodeHandshake(data)
		assert.Nil(t, err)
		assert.True(t, handshake.IsSameSession("abc"))
		assert.Equal(t, uint64(41), *handshake.LastSeenTraceNumber)
	})
}

func TestDecodeEvent(t *testing.T) {
	t.Run("should accept numeric object ids", func(t *testing.T) {
		event, err := DecodeEvent([]byte(`{"traceSessionId":"s","traceNumber":3,"object":{"id":7,"className":"Swarm"},"caller":{}}`))
		assert.Nil(t, err)
		assert.Equal(t, model.ObjectId("7"), event.Object.Id)
		assert.Equal(t, uint64(3), event.TraceNumber)
	})
}

func newEvent() model.TraceEvent {
	return model.TraceEvent{
		TraceTimestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TraceSessionId: "session",
		TraceNumber:    0,
		Id:             "listen",
		Object:         model.Object{Id: "1", ClassName: "Swarm"},
		Caller:         model.Caller{Filename: "swarm.go", FunctionName: "Listen"},
	}
}
