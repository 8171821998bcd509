package handler

// LinkDTO is one edge of the rendered connection graph
// @swagger:model LinkDTO
type LinkDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
	// One of bidirectional, directional or missing
	Kind string `json:"kind"`
}

// GraphResponseDTO represents the current connection graph
// @swagger:model GraphResponseDTO
type GraphResponseDTO struct {
	Title string    `json:"title"`
	Users []string  `json:"users"`
	Links []LinkDTO `json:"links"`
	// The mermaid flowchart the render queue would draw for this graph
	Mermaid string `json:"mermaid"`
	// Public keys announced through listen events, mapped to the user that announced them
	PublicKeys map[string]string `json:"publicKeys,omitempty"`
}
