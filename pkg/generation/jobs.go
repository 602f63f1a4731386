package generation

import (
	"context"
	"fmt"

	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/slots"
)

// Kind identifies a service operation
type Kind string

const (
	KindStyleTransfer Kind = "style_transfer"
	KindRemix         Kind = "remix"
)

// Generator is the remote service contract
type Generator interface {
	StyleTransfer(ctx context.Context, content, style *sequence.Sequence, opts Options) (*sequence.Sequence, error)
	Remix(ctx context.Context, content, output *sequence.Sequence) (*sequence.Sequence, error)
}

// Job describes which slots a generation reads and which slot receives
// the result
type Job struct {
	Kind   Kind
	Target slots.ID
	Inputs []slots.ID
}

var (
	// StyleTransferJob renders content in the style of style into output
	StyleTransferJob = Job{Kind: KindStyleTransfer, Target: slots.Output, Inputs: []slots.ID{slots.Content, slots.Style}}
	// RemixJob merges content into output on the service and fills remix
	RemixJob = Job{Kind: KindRemix, Target: slots.Remix, Inputs: []slots.ID{slots.Content, slots.Output}}
)

// Jobs lists every generation job
var Jobs = []Job{StyleTransferJob, RemixJob}

// JobFor returns the job that generates into target
func JobFor(target slots.ID) (Job, bool) {
	for _, j := range Jobs {
		if j.Target == target {
			return j, true
		}
	}
	return Job{}, false
}

// Inputs maps each generation target to the slots it consumes
func Inputs() map[slots.ID][]slots.ID {
	m := make(map[slots.ID][]slots.ID, len(Jobs))
	for _, j := range Jobs {
		m[j.Target] = j.Inputs
	}
	return m
}

// ResultName derives the display name of a result from its inputs:
// stem(content) + "__" + style for style transfer and
// stem(output) + "__remix.mid" for remix.
func (j Job) ResultName(inputs []*sequence.Sequence) string {
	switch j.Kind {
	case KindRemix:
		return sequence.Stem(inputs[1].Name) + "__remix.mid"
	default:
		return sequence.Stem(inputs[0].Name) + "__" + inputs[1].Name
	}
}

func (j Job) call(ctx context.Context, gen Generator, inputs []*sequence.Sequence, opts Options) (*sequence.Sequence, error) {
	switch j.Kind {
	case KindStyleTransfer:
		return gen.StyleTransfer(ctx, inputs[0], inputs[1], opts)
	case KindRemix:
		return gen.Remix(ctx, inputs[0], inputs[1])
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

// Execute runs j against gen. The target slot is busy for the duration of
// the request and is released on every path. Nothing is sent when an input
// is not ready or the target already has a request in flight. A result that
// arrives after the target was reloaded is discarded with slots.ErrStale.
func Execute(ctx context.Context, store *slots.Store, gen Generator, j Job, opts Options) (slots.View, error) {
	begin := store.Begin
	if j.Kind == KindRemix {
		// only the instruments still selected in the remix are sent
		begin = store.BeginSources
	}
	ticket, inputs, err := begin(j.Target, j.Inputs...)
	if err != nil {
		return slots.View{}, err
	}
	defer store.Release(ticket)

	result, err := j.call(ctx, gen, inputs, opts)
	if err != nil {
		return slots.View{}, err
	}
	if result == nil {
		return slots.View{}, fmt.Errorf("%w: empty result", sequence.ErrDecode)
	}
	result.Name = j.ResultName(inputs)

	return store.Install(ticket, result)
}
