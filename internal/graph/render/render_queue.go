package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	graphModel "github.com/Avi18971911/Swarmtrace/internal/graph/model"
	"github.com/Avi18971911/Swarmtrace/internal/metrics"
	"go.uber.org/zap"
)

const renderTimeOut = 60 * time.Second
const filenameTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Job struct {
	Filename string
	Script   string
	// Body is the script without its title line.
	Body string
}

type RenderQueue interface {
	Redraw(diagram graphModel.Diagram, at time.Time)
	// Wait blocks until every submitted job has been rendered or skipped.
	Wait()
}

// RenderQueueImpl renders jobs one at a time in submission order and skips a job whose diagram
// body equals the last rendered one.
type RenderQueueImpl struct {
	renderer  Renderer
	outputDir string
	logger    *zap.Logger

	mu        sync.Mutex
	idle      *sync.Cond
	jobs      []Job
	rendering bool
	counter   int
	lastBody  string
	rendered  bool
}

func NewRenderQueueImpl(renderer Renderer, outputDir string, logger *zap.Logger) *RenderQueueImpl {
	rq := &RenderQueueImpl{
		renderer:  renderer,
		outputDir: outputDir,
		logger:    logger,
	}
	rq.idle = sync.NewCond(&rq.mu)
	return rq
}

func (rq *RenderQueueImpl) Redraw(diagram graphModel.Diagram, at time.Time) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.counter++
	rq.jobs = append(rq.jobs, Job{
		Filename: Filename(rq.counter, at),
		Script:   diagram.Mermaid(),
		Body:     diagram.Body(),
	})
	if rq.rendering {
		return
	}
	rq.rendering = true
	go rq.drain()
}

func (rq *RenderQueueImpl) Wait() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	for rq.rendering {
		rq.idle.Wait()
	}
}

func (rq *RenderQueueImpl) drain() {
	for {
		rq.mu.Lock()
		if len(rq.jobs) == 0 {
			rq.rendering = false
			rq.idle.Broadcast()
			rq.mu.Unlock()
			return
		}
		job := rq.jobs[0]
		rq.jobs = rq.jobs[1:]
		if rq.rendered && job.Body == rq.lastBody {
			rq.mu.Unlock()
			metrics.RenderJobs.WithLabelValues("skipped").Inc()
			rq.logger.Debug("Skipping render of unchanged diagram", zap.String("filename", job.Filename))
			continue
		}
		rq.mu.Unlock()

		err := rq.render(job)

		rq.mu.Lock()
		if err == nil {
			rq.lastBody = job.Body
			rq.rendered = true
		}
		rq.mu.Unlock()
	}
}

func (rq *RenderQueueImpl) render(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), renderTimeOut)
	defer cancel()
	start := time.Now()
	err := rq.renderer.Render(ctx, job.Script, filepath.Join(rq.outputDir, job.Filename))
	metrics.RenderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RenderJobs.WithLabelValues("failed").Inc()
		rq.logger.Error("Failed to render diagram",
			zap.String("filename", job.Filename),
			zap.String("script", job.Script),
			zap.Error(err),
		)
		return err
	}
	metrics.RenderJobs.WithLabelValues("rendered").Inc()
	rq.logger.Info("Rendered diagram", zap.String("filename", job.Filename))
	return nil
}

// Filename is img-<counter>-<time>.png with ':' replaced so the name is valid on every filesystem.
func Filename(counter int, at time.Time) string {
	stamp := strings.ReplaceAll(at.UTC().Format(filenameTimeFormat), ":", ".")
	return fmt.Sprintf("img-%06d-%s.png", counter, stamp)
}
