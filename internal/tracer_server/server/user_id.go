package server

import (
	"strings"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
)

const peerIdPrefixLength = 8

// DeriveUserId picks props.username, then props.alias, then the generated id, drops non-ASCII
// characters, replaces spaces and appends "___" with the first 8 characters of the peer id.
func DeriveUserId(props model.Props, generatedUserId string, peerId string) string {
	name := props.GetString("username")
	if name == "" {
		name = props.GetString("alias")
	}
	if name == "" {
		name = generatedUserId
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r > 0x7f:
			continue
		case r == ' ':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String() + "___" + shortPeerId(peerId)
}

func shortPeerId(peerId string) string {
	if len(peerId) <= peerIdPrefixLength {
		return peerId
	}
	return peerId[:peerIdPrefixLength]
}
