package convert

import "fmt"

// Outcome classifies how a single pair conversion ended.
type Outcome int

const (
	Success Outcome = iota
	MissingBinary
	MissingSchema
	CompilerError
	OutputNotProduced
	OutputReadError
	OutputConflict
	Canceled
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	Success,
	MissingBinary,
	MissingSchema,
	CompilerError,
	OutputNotProduced,
	OutputReadError,
	OutputConflict,
	Canceled,
}

var outcomeNames = map[Outcome]string{
	Success:           "success",
	MissingBinary:     "missing_binary",
	MissingSchema:     "missing_schema",
	CompilerError:     "compiler_error",
	OutputNotProduced: "output_not_produced",
	OutputReadError:   "output_read_error",
	OutputConflict:    "output_conflict",
	Canceled:          "canceled",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for outcome, name := range outcomeNames {
		if name == string(text) {
			*o = outcome
			return nil
		}
	}
	return fmt.Errorf("unknown outcome: %s", text)
}

// Failed reports whether the outcome is a per-pair failure.
func (o Outcome) Failed() bool {
	return o != Success
}
