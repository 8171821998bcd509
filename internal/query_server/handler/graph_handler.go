package handler

import (
	"net/http"

	graphModel "github.com/Avi18971911/Swarmtrace/internal/graph/model"
	"github.com/Avi18971911/Swarmtrace/internal/graph/service"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// KeyDirectory is implemented by graph engines that expose their identity map.
type KeyDirectory interface {
	KnownPublicKeys() map[string]string
}

// GraphHandler creates a handler describing the current connection graph.
// @Summary Get the connection graph between users.
// @Tags graph
// @Produce json
// @Param format query string false "mermaid to receive the flowchart as plain text"
// @Success 200 {object} GraphResponseDTO "The current connection graph"
// @Router /graph [get]
func GraphHandler(
	engine service.GraphEngine,
	clk clock.Clock,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		diagram := engine.Diagram(clk.Now().UTC().Format(service.TitleTimeFormat))
		if r.URL.Query().Get("format") == "mermaid" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if _, err := w.Write([]byte(diagram.Mermaid())); err != nil {
				logger.Error("Error encountered when writing mermaid response", zap.Error(err))
			}
			return
		}
		response := mapDiagramToDTO(diagram)
		if directory, ok := engine.(KeyDirectory); ok {
			response.PublicKeys = directory.KnownPublicKeys()
		}
		writeJson(w, response, logger)
	}
}

func mapDiagramToDTO(diagram graphModel.Diagram) GraphResponseDTO {
	links := make([]LinkDTO, len(diagram.Links))
	for i, link := range diagram.Links {
		links[i] = LinkDTO{From: link.From, To: link.To, Kind: string(link.Kind)}
	}
	users := diagram.Users
	if users == nil {
		users = []string{}
	}
	return GraphResponseDTO{
		Title:   diagram.Title,
		Users:   users,
		Links:   links,
		Mermaid: diagram.Mermaid(),
	}
}
