package backend

import (
	"context"
	"io"
	"time"

	"github.com/seantiz/anvil/internal/datamodel"
)

// Backend is the interface that all template engines must implement.
type Backend interface {
	// Compile parses src into a renderable template. Syntax errors are reported
	// as *ParseError.
	Compile(src string, opts Options) (Template, error)

	// Capabilities reports which settings this engine honours.
	Capabilities() Capabilities
}

// Template is a compiled template. A Template is used by a single render at a
// time.
type Template interface {
	// Render writes the output for data to w. Evaluation errors are reported as
	// *EvalError. Errors returned by w are passed through unchanged, and when
	// ctx is cancelled Render stops at its next check point and returns the
	// context's error.
	Render(ctx context.Context, w io.Writer, data *datamodel.Map) error
}

// Options are the per-request settings a template is compiled with. The string
// fields hold settings catalog keys that were validated before they got here;
// engines treat unknown keys as their defaults.
type Options struct {
	OutputFormat        string
	Locale              string
	TimeZone            *time.Location
	TagSyntax           string
	InterpolationSyntax string
}

// Capabilities describes what a template engine supports.
type Capabilities struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	OutputFormats         []string `json:"outputFormats"`
	TagSyntaxes           []string `json:"tagSyntaxes,omitempty"`
	InterpolationSyntaxes []string `json:"interpolationSyntaxes,omitempty"`

	// Interruptible is true when a render checks for cancellation even while
	// it produces no output.
	Interruptible bool `json:"interruptible"`
}
