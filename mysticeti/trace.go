package mysticeti

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Trace is a sequence of DAG snapshots, each block tagged with the state of its slot.
// The JSON layout follows the ITF traces read by the DAG visualizer.
type Trace struct {
	States []TraceState `json:"states"`
}

type TraceState struct {
	Dag []BlockWithState `json:"dag"`
}

type BlockWithState struct {
	Block TraceBlock `json:"block"`
	State SlotState  `json:"state"`
}

type TraceBlock struct {
	Reference TraceReference   `json:"reference"`
	Includes  []TraceReference `json:"includes"`
}

type TraceReference struct {
	Authority  int    `json:"authority"`
	Round      uint64 `json:"round"`
	Label      string `json:"label"`
	LeaderRank int    `json:"leader_rank"`
}

// SlotState is encoded as {"tag": "Commit", "value": [round, authority]}; Undecided
// carries no value.
type SlotState struct {
	Tag   string   `json:"tag"`
	Value []uint64 `json:"value,omitempty"`
}

// Status returns the decision status encoded by the tag.
func (s SlotState) Status() Status {
	switch s.Tag {
	case "Commit":
		return Commit
	case "Skip":
		return Skip
	default:
		return Undecided
	}
}

func newSlotState(d Decision) SlotState {
	state := SlotState{Tag: d.Status.String()}
	if d.Status != Undecided {
		state.Value = []uint64{d.Block.Round, uint64(d.Block.Authority)}
	}
	return state
}

func newTraceReference(ref BlockReference) TraceReference {
	return TraceReference{
		Authority:  int(ref.Authority),
		Round:      ref.Round,
		Label:      ref.String(),
		LeaderRank: ref.LeaderRank,
	}
}

// NewTraceState snapshots blocks with the state decided for their slot.
// Blocks without a decision are reported undecided.
func NewTraceState(blocks []*StatementBlock, decisions []Decision) TraceState {
	states := make(map[Slot]Decision, len(decisions))
	for _, d := range decisions {
		states[d.Block.Slot()] = d
	}
	state := TraceState{Dag: make([]BlockWithState, 0, len(blocks))}
	for _, b := range blocks {
		includes := make([]TraceReference, 0, len(b.Parents))
		for _, p := range b.Parents {
			includes = append(includes, newTraceReference(p))
		}
		d, ok := states[b.Reference.Slot()]
		if !ok {
			d = Decision{Status: Undecided, Block: b.Reference}
		}
		state.Dag = append(state.Dag, BlockWithState{
			Block: TraceBlock{
				Reference: newTraceReference(b.Reference),
				Includes:  includes,
			},
			State: newSlotState(d),
		})
	}
	return state
}

// Append adds a snapshot at the end of the trace.
func (t *Trace) Append(state TraceState) {
	t.States = append(t.States, state)
}

// Encode writes the trace as JSON.
func (t *Trace) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(t), "encode trace")
}

// DecodeTrace reads a trace written by Encode.
func DecodeTrace(r io.Reader) (*Trace, error) {
	var t Trace
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, errors.Wrap(err, "decode trace")
	}
	return &t, nil
}
