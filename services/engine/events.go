package engine

import "time"

type EventType int

const (
	EventEntry EventType = iota
	EventStopHit
	EventTakeProfitHit
	EventForceClose
	EventEntrySkipped
	EventMarginWarning
)

var eventNames = [...]string{
	EventEntry:         "entry",
	EventStopHit:       "stop_hit",
	EventTakeProfitHit: "take_profit_hit",
	EventForceClose:    "force_close",
	EventEntrySkipped:  "entry_skipped",
	EventMarginWarning: "margin_warning",
}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

type Event struct {
	Bar    int          `json:"bar"`
	Time   time.Time    `json:"time"`
	Type   EventType    `json:"type"`
	Side   PositionSide `json:"side"`
	Price  float64      `json:"price"`
	Size   float64      `json:"size,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }

// Count returns how many events of type t were logged.
func (l *EventLog) Count(t EventType) int {
	n := 0
	for _, e := range l.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}
