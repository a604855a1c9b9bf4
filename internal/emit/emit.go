// Package emit hands the ranked node list to the configured output
// writers. It owns no serialization; writers do.
package emit

import (
	"context"
	"fmt"
	"log"

	"github.com/subweave/subweave/internal/codec"
	"github.com/subweave/subweave/internal/validate"
)

// Writer produces one family of output artifacts from a ranked node list.
// Writers must handle an empty list by producing a well-formed placeholder;
// downstream publication pipelines never tolerate a missing artifact.
type Writer interface {
	Name() string
	Write(ctx context.Context, ranked []*codec.Node, report *validate.Report) error
}

// Emitter fans the run's result out to every registered writer.
type Emitter struct {
	writers []Writer
}

func New(writers ...Writer) *Emitter {
	return &Emitter{writers: writers}
}

// Emit invokes every writer, including when the ranked list is empty. One
// writer's failure does not stop the others; the first error is returned.
func (e *Emitter) Emit(ctx context.Context, ranked []*codec.Node, report *validate.Report) error {
	if len(ranked) == 0 {
		log.Printf("[emit] no valid nodes, writers will emit placeholders")
	}
	var firstErr error
	for _, w := range e.writers {
		if err := w.Write(ctx, ranked, report); err != nil {
			log.Printf("[emit] writer %s failed: %v", w.Name(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("emit: writer %s: %w", w.Name(), err)
			}
		}
	}
	return firstErr
}
