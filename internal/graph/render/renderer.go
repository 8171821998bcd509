package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const DefaultMermaidCommand = "mmdc"

type Renderer interface {
	// Render writes the image for script to outputPath and returns once the file is complete.
	Render(ctx context.Context, script string, outputPath string) error
}

// MermaidRenderer runs the mermaid CLI with the flowchart on stdin.
type MermaidRenderer struct {
	command string
	args    []string
}

func NewMermaidRenderer(command string, extraArgs ...string) *MermaidRenderer {
	if command == "" {
		command = DefaultMermaidCommand
	}
	return &MermaidRenderer{command: command, args: extraArgs}
}

func (mr *MermaidRenderer) Render(ctx context.Context, script string, outputPath string) error {
	args := append([]string{"-i", "-", "-o", outputPath}, mr.args...)
	cmd := exec.CommandContext(ctx, mr.command, args...)
	cmd.Stdin = strings.NewReader(script)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", mr.command, err, strings.TrimSpace(output.String()))
	}
	return nil
}
