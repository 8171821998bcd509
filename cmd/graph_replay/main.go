package main

import (
	"fmt"
	"os"

	"github.com/Avi18971911/Swarmtrace/internal/graph/render"
	"github.com/Avi18971911/Swarmtrace/internal/graph/replay"
	"github.com/Avi18971911/Swarmtrace/internal/graph/service"
	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	renderFrames   bool
	outputDir      string
	mermaidCommand string
)

var rootCmd = &cobra.Command{
	Use:   "graph_replay <dir>",
	Short: "Rebuild the swarm connection graph from a folder of peer logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	rootCmd.Flags().BoolVar(&renderFrames, "render", false, "Render a diagram image after every graph change")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "frames", "Directory receiving rendered diagrams")
	rootCmd.Flags().StringVar(&mermaidCommand, "mermaid-command", render.DefaultMermaidCommand, "Mermaid CLI executable")
}

func runReplay(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	entries, err := replay.LoadDirectory(args[0], logger)
	if err != nil {
		return err
	}

	var redrawer service.Redrawer
	var renderQueue *render.RenderQueueImpl
	if renderFrames {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		renderQueue = render.NewRenderQueueImpl(render.NewMermaidRenderer(mermaidCommand), outputDir, logger)
		redrawer = renderQueue
	}

	engine := service.NewGraphEngineImpl(redrawer, clock.New(), logger)
	events := replay.Replay(entries, engine)
	if renderQueue != nil {
		renderQueue.Wait()
	}
	logger.Info("Replayed log folder",
		zap.String("dir", args[0]),
		zap.Int("entries", len(entries)),
		zap.Int("events", events),
		zap.Strings("users", engine.Users()),
	)
	fmt.Fprint(cmd.OutOrStdout(), engine.Diagram("final").Mermaid())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
