package model

type LinkKind string

const (
	Bidirectional LinkKind = "bidirectional"
	Directional   LinkKind = "directional"
	// Missing marks two users in the swarm with no stream between them.
	Missing LinkKind = "missing"
)

// Link connects two user ids. Bidirectional and Missing links are stored with From < To.
type Link struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind LinkKind `json:"kind"`
}

type Diagram struct {
	Title string   `json:"title"`
	Users []string `json:"users"`
	Links []Link   `json:"links"`
}
