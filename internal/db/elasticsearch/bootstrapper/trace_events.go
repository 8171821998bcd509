package bootstrapper

const TraceEventIndexName = "trace_event_index"

func keyword() map[string]interface{} {
	return map[string]interface{}{"type": "keyword"}
}

var traceEventIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"time": map[string]interface{}{
				"type": "date",
			},
			"traceTimestamp": map[string]interface{}{
				"type": "date",
			},
			"userId":         keyword(),
			"peerId":         keyword(),
			"level":          keyword(),
			"traceSessionId": keyword(),
			"id":             keyword(),
			"note": map[string]interface{}{
				"type": "text",
			},
			"traceNumber": map[string]interface{}{
				"type": "long",
			},
			"object": map[string]interface{}{
				"properties": map[string]interface{}{
					"id":        keyword(),
					"className": keyword(),
					"props": map[string]interface{}{
						"type":    "object",
						"enabled": false,
					},
				},
			},
			"caller": map[string]interface{}{
				"properties": map[string]interface{}{
					"filename":     keyword(),
					"functionName": keyword(),
					"props": map[string]interface{}{
						"type":    "object",
						"enabled": false,
					},
				},
			},
			"props": map[string]interface{}{
				"type":    "object",
				"enabled": false,
			},
		},
	},
}
