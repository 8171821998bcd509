package model

func (c Caller) ListenPublicKey() (string, bool) {
	return lookupString(c.Props, "publicKey")
}

// StreamKeys returns the local and remote public keys of a traced stream. They are read from
// caller.props.stream when present and from caller.props otherwise.
func (c Caller) StreamKeys() (publicKey string, remotePublicKey string, ok bool) {
	props := c.Props
	if stream, found := asMap(c.Props["stream"]); found {
		props = stream
	}
	publicKey, okLocal := lookupString(props, "publicKey")
	remotePublicKey, okRemote := lookupString(props, "remotePublicKey")
	return publicKey, remotePublicKey, okLocal && okRemote
}

func (c Caller) ErrorCode() string {
	errProps, found := asMap(c.Props["error"])
	if !found {
		return ""
	}
	code, _ := lookupString(errProps, "code")
	return code
}

func (p Props) GetString(key string) string {
	value, _ := lookupString(p, key)
	return value
}

func lookupString(props map[string]interface{}, key string) (string, bool) {
	if props == nil {
		return "", false
	}
	value, ok := props[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func asMap(value interface{}) (map[string]interface{}, bool) {
	switch typed := value.(type) {
	case map[string]interface{}:
		return typed, true
	case Props:
		return typed, true
	default:
		return nil, false
	}
}
