package reactor

// Kind 是事件种类的封闭集合，每种对应一个独立的事件表。
type Kind uint8

const (
	Read Kind = iota
	Write
	Signal
	Interval
	Timeout

	numKinds = int(Timeout) + 1
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case Signal:
		return "signal"
	case Interval:
		return "interval"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool { return int(k) < numKinds }

// State 是循环的生命周期状态。
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}
