package pipeline

import (
	"context"
	"encoding/json"

	"worker.orly.dev/pkg/dispatcher"
	"worker.orly.dev/pkg/wire"
)

// Pipeline is a concrete ordered list of pipes bound to one sub_id; it
// implements dispatcher.Pipeline so C4 can drive it directly.
type Pipeline struct {
	SubID string
	Pipes []Pipe
}

// New returns a Pipeline with the given ordered pipe chain.
func New(subID string, pipes ...Pipe) *Pipeline {
	return &Pipeline{SubID: subID, Pipes: pipes}
}

// outputEnvelope carries a ParsedEvent into the WorkerMessage FlatBuffer's
// payload field. ParsedEvent's own kind-specific fan-out (Metadata, Note,
// Reaction, ...) stays JSON-encoded inside that payload rather than each
// getting a hand-built FlatBuffer table of its own: the outer WorkerMessage
// framing is what actually crosses the ring, and re-deriving a nested
// FlatBuffer table per kind for a payload the UI only ever re-marshals
// whole would just be restating the same struct twice.
type outputEnvelope struct {
	EOSE   bool         `json:"eose,omitempty"`
	Parsed *ParsedEvent `json:"parsed,omitempty"`
}

// Run satisfies dispatcher.Pipeline: it runs msg's payload through the pipe
// chain in order and returns the WorkerMessage FlatBuffer frame the pipeline
// chain produced, or nil if the event was dropped before SerializeEvents
// ran.
func (pl *Pipeline) Run(ctx context.Context, msg dispatcher.WorkerMessage) (out []byte, err error) {
	st := &State{Raw: msg.Payload}
	for _, p := range pl.Pipes {
		p.Process(ctx, st)
		if st.dropped() && !st.SyntheticEOSE {
			break
		}
	}
	if st.SyntheticEOSE {
		var payload []byte
		if payload, err = json.Marshal(outputEnvelope{EOSE: true}); err != nil {
			return nil, err
		}
		return wire.EncodeWorkerMessage(pl.SubID, int8(dispatcher.MsgEOSE), payload, false, ""), nil
	}
	if st.Output == nil {
		return nil, nil
	}
	return wire.EncodeWorkerMessage(pl.SubID, int8(dispatcher.MsgEvent), st.Output, false, ""), nil
}
