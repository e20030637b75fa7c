package ingestion

// RunContext is the per-invocation accumulator threaded through the
// orchestrator and handler. It carries the identifiers every audit write
// needs plus the counters and the in-memory reject buffer.
//
// A RunContext belongs to exactly one invocation and is never shared across
// goroutines, so the counters are plain ints.
type RunContext struct {
	RequestID string
	Source    RequestSource
	Method    string
	WindowKey string
	RunID     int64
	Force     bool

	seen     int
	inserted int
	updated  int
	rejected int
	rejects  []Reject
}

// NewRunContext creates the accumulator for one invocation.
func NewRunContext(method, requestID string, source RequestSource, force bool) *RunContext {
	return &RunContext{
		RequestID: requestID,
		Source:    source,
		Method:    method,
		Force:     force,
	}
}

// IncrementSeen counts one record pulled from the parser.
func (rc *RunContext) IncrementSeen() {
	rc.seen++
}

// AddInserted counts rows the store reported as newly inserted.
func (rc *RunContext) AddInserted(n int) {
	rc.inserted += n
}

// AddUpdated counts rows the store reported as updated. Skip-on-conflict
// keeps this at zero today; the counter stays wired for forward
// compatibility of the metrics schema.
func (rc *RunContext) AddUpdated(n int) {
	rc.updated += n
}

// AddReject buffers one rejected record. Rejects are flushed once at run
// finalization, never mid-run.
func (rc *RunContext) AddReject(rawData, reason string, parseError bool) {
	rc.rejected++
	rc.rejects = append(rc.rejects, Reject{
		RawData:    rawData,
		Reason:     reason,
		ParseError: parseError,
	})
}

// Seen returns the number of records pulled from the parser.
func (rc *RunContext) Seen() int { return rc.seen }

// Inserted returns the number of curated rows inserted.
func (rc *RunContext) Inserted() int { return rc.inserted }

// Updated returns the number of curated rows updated (always zero today).
func (rc *RunContext) Updated() int { return rc.updated }

// Rejected returns the number of buffered rejects.
func (rc *RunContext) Rejected() int { return rc.rejected }

// Rejects returns the buffered rejects for the terminal flush.
func (rc *RunContext) Rejects() []Reject { return rc.rejects }
