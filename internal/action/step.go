package action

// Op is the direction of a Step.
type Op uint8

const (
	Assert Op = iota + 1
	Deassert
)

func (o Op) String() string {
	switch o {
	case Assert:
		return "assert"
	case Deassert:
		return "deassert"
	default:
		return "unknown"
	}
}

// Step is one instruction for the output layer.
type Step struct {
	Op     Op
	Action Action
}

// Down returns the steps asserting a, or nothing for the no-op action.
func Down(a Action) []Step {
	if a.IsNoOp() {
		return nil
	}
	return []Step{{Op: Assert, Action: a}}
}

// Up returns the steps deasserting a, or nothing for the no-op action.
func Up(a Action) []Step {
	if a.IsNoOp() {
		return nil
	}
	return []Step{{Op: Deassert, Action: a}}
}

// Tap returns an assert immediately followed by the matching deassert.
func Tap(a Action) []Step {
	return append(Down(a), Up(a)...)
}

// Output is the report layer that actually presses keys on the host.
type Output interface {
	Assert(Action)
	Deassert(Action)
}

// Apply issues steps to out in order.
func Apply(out Output, steps []Step) {
	for _, s := range steps {
		switch s.Op {
		case Assert:
			out.Assert(s.Action)
		case Deassert:
			out.Deassert(s.Action)
		}
	}
}

// Tee sends every step to each output in turn.
func Tee(outs ...Output) Output {
	return tee(outs)
}

type tee []Output

func (t tee) Assert(a Action) {
	for _, o := range t {
		o.Assert(a)
	}
}

func (t tee) Deassert(a Action) {
	for _, o := range t {
		o.Deassert(a)
	}
}
