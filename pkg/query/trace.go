package query

// TraceEvent is reported to the trace hook while a statement compiles.
type TraceEvent struct {
	// Event is one of "scope", "field", "segment" or "statement".
	Event string
	// Key names the table, field or statement kind involved.
	Key string
	// SQL is the text produced at this step, if any.
	SQL string
	// Values is the number of values bound so far.
	Values int
}

// TraceFunc receives trace events. It is called synchronously from the
// compiling goroutine.
type TraceFunc func(TraceEvent)

func (c *compilation) tracef(event, key, sql string) {
	if c.trace == nil {
		return
	}
	c.trace(TraceEvent{Event: event, Key: key, SQL: sql, Values: len(c.params.values)})
}
