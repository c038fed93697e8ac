// Package event defines the status events a translation backend emits and
// the per-request stream they are delivered on.
package event

// Kind discriminates status events.
type Kind int

const (
	// Progress reports 0-100 progress for a named resource (model load,
	// download).
	Progress Kind = iota
	// Chunk carries an incremental piece of translated text for one
	// fragment index.
	Chunk
	// BlockChunk is a completed fragment translation in block mode.
	BlockChunk
	// Complete is the terminal success event for simple and contextual
	// requests; Text carries the full result.
	Complete
	// BlockComplete is the terminal success event for block requests.
	BlockComplete
	// Error is the terminal failure event for simple and contextual
	// requests.
	Error
	// BlockError is the terminal failure event for block requests.
	BlockError
)

var kindNames = map[Kind]string{
	Progress:      "progress",
	Chunk:         "chunk",
	BlockChunk:    "block-chunk",
	Complete:      "complete",
	BlockComplete: "block-complete",
	Error:         "error",
	BlockError:    "block-error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether an event of this kind settles the request.
// Every request sees exactly one terminal event.
func (k Kind) Terminal() bool {
	switch k {
	case Complete, BlockComplete, Error, BlockError:
		return true
	}
	return false
}

// Event is one status update from a backend. Which payload fields are
// meaningful depends on Kind: Resource and Percent for Progress, Index and
// Text for Chunk/BlockChunk, Text for Complete, Message for Error and
// BlockError.
type Event struct {
	Kind     Kind
	Resource string
	Percent  float64
	Index    int
	Text     string
	Message  string
}

// Errorf builds a terminal error event of the given kind (Error or
// BlockError) from err.
func Errorf(kind Kind, err error) Event {
	return Event{Kind: kind, Message: err.Error()}
}
