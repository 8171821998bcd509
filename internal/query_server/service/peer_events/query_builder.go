package peer_events

func peerFilter(peerId string) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []map[string]interface{}{
				{
					"term": map[string]interface{}{
						"peerId": peerId,
					},
				},
			},
		},
	}
}

func getPeerCountQuery(peerId string) map[string]interface{} {
	return map[string]interface{}{
		"query": peerFilter(peerId),
	}
}

func getPeerHistoryQuery(peerId string) map[string]interface{} {
	return map[string]interface{}{
		"query": peerFilter(peerId),
		"sort": []map[string]interface{}{
			{
				"time": map[string]interface{}{
					"order": "desc",
				},
			},
		},
	}
}
