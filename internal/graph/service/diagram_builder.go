package service

import (
	"sort"

	graphModel "github.com/Avi18971911/Swarmtrace/internal/graph/model"
)

// BuildDiagram turns a connection multiset into a diagram. The result depends only on which
// edges are open, never on the order they were opened in.
func BuildDiagram(edges map[string]map[string]int, title string) graphModel.Diagram {
	present := make(map[string]struct{})
	for from, tos := range edges {
		for to, count := range tos {
			if count <= 0 {
				continue
			}
			present[from] = struct{}{}
			present[to] = struct{}{}
		}
	}
	users := make([]string, 0, len(present))
	for user := range present {
		users = append(users, user)
	}
	sort.Strings(users)

	hasEdge := func(from string, to string) bool {
		return edges[from][to] > 0
	}

	links := make([]graphModel.Link, 0)
	drawnPairs := make(map[[2]string]struct{})
	for _, from := range sortedKeys(edges) {
		for _, to := range sortedKeys(edges[from]) {
			if !hasEdge(from, to) {
				continue
			}
			if !hasEdge(to, from) {
				links = append(links, graphModel.Link{From: from, To: to, Kind: graphModel.Directional})
				continue
			}
			pair := orderedPair(from, to)
			if _, drawn := drawnPairs[pair]; drawn {
				continue
			}
			drawnPairs[pair] = struct{}{}
			links = append(links, graphModel.Link{From: pair[0], To: pair[1], Kind: graphModel.Bidirectional})
		}
	}

	for i := 0; i < len(users); i++ {
		for j := i + 1; j < len(users); j++ {
			if hasEdge(users[i], users[j]) || hasEdge(users[j], users[i]) {
				continue
			}
			links = append(links, graphModel.Link{From: users[i], To: users[j], Kind: graphModel.Missing})
		}
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].From != links[j].From {
			return links[i].From < links[j].From
		}
		if links[i].To != links[j].To {
			return links[i].To < links[j].To
		}
		return links[i].Kind < links[j].Kind
	})

	return graphModel.Diagram{
		Title: title,
		Users: users,
		Links: links,
	}
}

func orderedPair(a string, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func sortedKeys[ValueType any](m map[string]ValueType) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
