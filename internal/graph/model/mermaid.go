package model

import (
	"fmt"
	"strings"
)

var linkArrows = map[LinkKind]string{
	Bidirectional: "<-->",
	Directional:   "-->",
	Missing:       "-.-",
}

var linkStyles = map[LinkKind]string{
	Bidirectional: "stroke:#2e7d32,stroke-width:2px",
	Directional:   "stroke:#ef6c00,stroke-width:2px",
	Missing:       "stroke:#c62828,stroke-width:1px,stroke-dasharray:4",
}

// Mermaid renders the diagram as a mermaid flowchart with the title in front matter.
func (d Diagram) Mermaid() string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: \"%s\"\n", escapeLabel(d.Title))
	b.WriteString("---\n")
	b.WriteString(d.Body())
	return b.String()
}

// Body is the flowchart without the title, used to detect unchanged topology.
func (d Diagram) Body() string {
	nodeIds := make(map[string]string, len(d.Users))
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	for i, user := range d.Users {
		nodeId := fmt.Sprintf("n%d", i)
		nodeIds[user] = nodeId
		fmt.Fprintf(&b, "  %s[\"%s\"]\n", nodeId, escapeLabel(user))
	}
	for _, link := range d.Links {
		fmt.Fprintf(&b, "  %s %s %s\n", nodeIds[link.From], linkArrows[link.Kind], nodeIds[link.To])
	}
	for i, link := range d.Links {
		fmt.Fprintf(&b, "  linkStyle %d %s\n", i, linkStyles[link.Kind])
	}
	return b.String()
}

func escapeLabel(label string) string {
	label = strings.ReplaceAll(label, "\"", "#quot;")
	return strings.ReplaceAll(label, "\n", " ")
}
