package gelftcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pipeline connects inputs to outputs through a single shared channel.
// It exists so an input can be run standalone; routing belongs elsewhere.
type Pipeline struct {
	Name    string
	inputs  []NamedEntity[InputPlugin]
	outputs []NamedEntity[OutputPlugin]
	opts    PipelineOptions
}

type PipelineOptions struct {
	// BufferSize is the capacity of the channel shared by all inputs.
	BufferSize int
}

const ChanBufferSize = 64

// ErrPipelineClosed is returned to senders that outlive the pipeline run.
var ErrPipelineClosed = errors.New("pipeline has stopped accepting events")

func NewPipeline(name string, options PipelineOptions) *Pipeline {
	if options.BufferSize <= 0 {
		options.BufferSize = ChanBufferSize
	}
	return &Pipeline{
		Name: name,
		opts: options,
	}
}

func (p *Pipeline) Input(name string, plugin InputPlugin) {
	p.inputs = append(p.inputs, NamedEntity[InputPlugin]{
		Name:  name,
		Value: plugin,
	})
}

func (p *Pipeline) Output(name string, plugin OutputPlugin) {
	p.outputs = append(p.outputs, NamedEntity[OutputPlugin]{
		Name:  name,
		Value: plugin,
	})
}

// Run blocks until ctx is cancelled or an input fails. Events that were
// already enqueued are still delivered to the outputs before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx = context.WithValue(ctx, ContextKeyPipelineName, p.Name)
	log := ContextLogger(ctx)

	if len(p.inputs) == 0 {
		return fmt.Errorf("pipeline %s has no inputs", p.Name)
	}

	events := make(chan *Event, p.opts.BufferSize)
	sender := &pipelineSender{ch: events}

	inputs, inputCtx := errgroup.WithContext(ctx)
	for _, entity := range p.inputs {
		entity := entity
		pluginCtx := context.WithValue(inputCtx, ContextKeyPluginName, entity.Name)
		inputs.Go(func() error {
			log := ContextLogger(pluginCtx)
			log.Info("starting input")
			err := entity.Value.Run(pluginCtx, sender)
			if err != nil {
				log.Error("input failed", "error", err)
				return fmt.Errorf("input %s: %w", entity.Name, err)
			}
			log.Info("input stopped")
			return nil
		})
	}

	// outputs keep draining after cancellation so nothing enqueued is lost
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		outCtx := context.WithoutCancel(ctx)
		for evt := range events {
			for _, out := range p.outputs {
				if err := out.Value.Run(outCtx, evt); err != nil {
					log.Error("output failed", "plugin", out.Name, "error", err)
				}
			}
		}
	}()

	err := inputs.Wait()
	// an input may return while its connection handlers are still sending
	sender.close()
	<-drained
	log.Info("pipeline stopped")
	return err
}

// pipelineSender closes the channel only once no Send is in progress.
// Sends that start after that are refused.
type pipelineSender struct {
	mu     sync.RWMutex
	closed bool
	ch     chan *Event
}

func (s *pipelineSender) Send(ctx context.Context, evt *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrPipelineClosed
	}
	return ChanSender(s.ch).Send(ctx, evt)
}

// close waits for in-flight sends, which complete because the output
// goroutine keeps draining the channel.
func (s *pipelineSender) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
