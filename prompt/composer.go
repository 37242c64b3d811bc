// Package prompt merges the user query with retrieved passages and an
// instruction template into the outbound generation request payload. The two
// stock instructions cover the generic related-documents style and the
// citation-tagged style behind one configuration surface.
package prompt

import (
	"context"
	"strings"

	"github.com/hupe1980/threadstream/internal/util"
	"github.com/hupe1980/threadstream/retrieval"
)

const (
	// DefaultInstruction introduces retrieved passages without citation
	// requirements.
	DefaultInstruction = "— Related contexts from our index —"

	// CitationInstruction instructs the agent to cite the bracketed source
	// tags that the corpus loader prepends to each passage.
	CitationInstruction = "— Related contexts from our index — " +
		"Each context may start with a bracketed source tag; cite the tag of every context you rely on in your answer."
)

// Prompt is the composed outbound payload. AugmentedQuery embeds the original
// query followed by the context block; ContextBlock is the instruction plus
// the retrieved texts in ranked order.
type Prompt struct {
	AugmentedQuery string
	ContextBlock   string
}

// Options configure a Composer.
type Options struct {
	// Instruction is the template preceding the retrieved passages. Static
	// text may use Go template syntax with {{.Query}} available.
	Instruction Instruction
	// Separator joins the retrieved passage texts. Defaults to a blank-line
	// separator so passages stay visually distinct in the prompt.
	Separator string
}

// Composer builds augmented queries from retrieval results.
type Composer struct {
	opts Options
}

// NewComposer creates a Composer with optional overrides.
func NewComposer(optFns ...func(o *Options)) *Composer {
	opts := Options{
		Instruction: NewInstructionFromText(DefaultInstruction),
		Separator:   "\n\n",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Composer{opts: opts}
}

// Compose merges query and the ranked results into a Prompt. Ranked order is
// preserved, most relevant first, since downstream citation correctness
// depends on ordering matching what the generation step saw. With no results
// the context block is just the instruction, keeping the prompt shape stable.
func (c *Composer) Compose(ctx context.Context, query string, retrieved []retrieval.Result) (Prompt, error) {
	instruction, err := c.opts.Instruction.Resolve(ctx)
	if err != nil {
		return Prompt{}, err
	}
	instruction, err = util.RenderTemplate(instruction, map[string]any{"Query": query})
	if err != nil {
		return Prompt{}, err
	}

	parts := make([]string, 0, len(retrieved)+1)
	parts = append(parts, instruction)
	for _, r := range retrieved {
		parts = append(parts, r.Text)
	}
	block := strings.TrimSpace(strings.Join(parts, c.opts.Separator))

	augmented := strings.TrimSpace(query + "\n" + block)

	return Prompt{AugmentedQuery: augmented, ContextBlock: block}, nil
}
