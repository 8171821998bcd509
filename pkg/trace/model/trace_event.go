package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Props map[string]interface{}

// ObjectId accepts both string and numeric ids on the wire and always encodes as a string.
type ObjectId string

func (o *ObjectId) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = ObjectId(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("object id is neither a string nor a number: %w", err)
	}
	*o = ObjectId(n.String())
	return nil
}

func ObjectIdFromInt(id int) ObjectId {
	return ObjectId(strconv.Itoa(id))
}

type Object struct {
	Id        ObjectId `json:"id"`
	ClassName string   `json:"className"`
	Props     Props    `json:"props,omitempty"`
}

type Caller struct {
	Filename     string `json:"filename"`
	FunctionName string `json:"functionName"`
	Props        Props  `json:"props,omitempty"`
}

type TraceEvent struct {
	TraceTimestamp time.Time `json:"traceTimestamp"`
	TraceSessionId string    `json:"traceSessionId"`
	TraceNumber    uint64    `json:"traceNumber"`
	Id             string    `json:"id,omitempty"`
	Props          Props     `json:"props"`
	Object         Object    `json:"object"`
	Caller         Caller    `json:"caller"`
}

// Handshake is the first message the server writes on every connection. Both fields are null until
// the server has observed at least one event from the peer.
type Handshake struct {
	LastSeenTraceSessionId *string `json:"lastSeenTraceSessionId"`
	LastSeenTraceNumber    *uint64 `json:"lastSeenTraceNumber"`
}

func (h Handshake) IsSameSession(traceSessionId string) bool {
	return h.LastSeenTraceSessionId != nil && *h.LastSeenTraceSessionId == traceSessionId
}

// LogEntry is one persisted line: either a note or an enriched trace event.
type LogEntry struct {
	Time   time.Time `json:"time"`
	UserId string    `json:"userId,omitempty"`
	PeerId string    `json:"peerId,omitempty"`
	Note   string    `json:"note,omitempty"`
	Level  NoteLevel `json:"level,omitempty"`
	*TraceEvent
}

type NoteLevel string

const (
	InfoLevel  NoteLevel = "info"
	WarnLevel  NoteLevel = "warn"
	ErrorLevel NoteLevel = "error"
)

func (l LogEntry) IsNote() bool {
	return l.TraceEvent == nil
}

const (
	ListenEventId      = "listen"
	StreamOpenEventId  = "stream-open"
	StreamCloseEventId = "stream-close"
)
