// Package event defines the per-transition records a node emits.
//
// Every state transition a node makes (internal event, send, receive,
// failed send) produces exactly one textual record:
//
//	<unix seconds, ms precision> - <description>
//
// The description carries the clock value after the transition, the target
// peer for sends, and the queue length after a dequeue for receives. The
// archive and analyze sides parse exactly what the node writes, so Format
// and Parse are kept in one place and round-trip each other.
package event

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the transition a record describes.
type Kind string

const (
	// KindInternal is a local event that only advanced the clock.
	KindInternal Kind = "internal"
	// KindSent is one leg of a send-to-all-peers broadcast.
	KindSent Kind = "sent"
	// KindSentDirect is a send to a single peer.
	KindSentDirect Kind = "sent_direct"
	// KindReceived is a message dequeued and applied to the clock.
	KindReceived Kind = "received"
	// KindSendFailed is a send whose transport write failed. The clock was
	// already advanced for the attempt and is not rolled back.
	KindSendFailed Kind = "send_failed"
)

// Record is one event log entry.
type Record struct {
	Time     time.Time
	NodeID   int // not encoded in the line; derived from the log file name
	Kind     Kind
	Clock    int64
	Target   int // peer id, for sends only
	QueueLen int // queue length after dequeue, for receives only
}

// Describe renders the record's description (the part after the timestamp).
func (r Record) Describe() string {
	switch r.Kind {
	case KindSentDirect:
		return fmt.Sprintf("Sent message to VM %d: clock is now %d.", r.Target, r.Clock)
	case KindSent:
		return fmt.Sprintf("Broadcast message to VM %d: clock is now %d.", r.Target, r.Clock)
	case KindReceived:
		return fmt.Sprintf("Received message: updated clock to %d. Queue length: %d", r.Clock, r.QueueLen)
	case KindSendFailed:
		return fmt.Sprintf("Failed to send message to VM %d: clock is now %d.", r.Target, r.Clock)
	default:
		return fmt.Sprintf("Internal event: clock ticked to %d.", r.Clock)
	}
}

// Format renders the full log line, without a trailing newline.
func (r Record) Format() string {
	ts := float64(r.Time.UnixNano()) / float64(time.Second)
	return fmt.Sprintf("%.3f - %s", ts, r.Describe())
}

var (
	reInternal   = regexp.MustCompile(`^Internal event: clock ticked to (\d+)\.$`)
	reSentDirect = regexp.MustCompile(`^Sent message to VM (\d+): clock is now (\d+)\.$`)
	reSent       = regexp.MustCompile(`^Broadcast message to VM (\d+): clock is now (\d+)\.$`)
	reReceived   = regexp.MustCompile(`^Received message: updated clock to (\d+)\. Queue length: (\d+)$`)
	reFailed     = regexp.MustCompile(`^Failed to send message to VM (\d+): clock is now (\d+)\.$`)
)

// Parse decodes one log line into a Record. The NodeID field is left zero;
// callers that know the source file fill it in. Returns an error for lines
// that do not match any known record shape.
func Parse(line string) (Record, error) {
	ts, desc, ok := strings.Cut(line, " - ")
	if !ok {
		return Record{}, fmt.Errorf("event: no timestamp separator in %q", line)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
	if err != nil || secs < 0 {
		return Record{}, fmt.Errorf("event: bad timestamp in %q", line)
	}
	whole, frac := math.Modf(secs)
	r := Record{Time: time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()}

	switch {
	case reInternal.MatchString(desc):
		m := reInternal.FindStringSubmatch(desc)
		r.Kind = KindInternal
		r.Clock = mustInt64(m[1])
	case reSentDirect.MatchString(desc):
		m := reSentDirect.FindStringSubmatch(desc)
		r.Kind = KindSentDirect
		r.Target = int(mustInt64(m[1]))
		r.Clock = mustInt64(m[2])
	case reSent.MatchString(desc):
		m := reSent.FindStringSubmatch(desc)
		r.Kind = KindSent
		r.Target = int(mustInt64(m[1]))
		r.Clock = mustInt64(m[2])
	case reReceived.MatchString(desc):
		m := reReceived.FindStringSubmatch(desc)
		r.Kind = KindReceived
		r.Clock = mustInt64(m[1])
		r.QueueLen = int(mustInt64(m[2]))
	case reFailed.MatchString(desc):
		m := reFailed.FindStringSubmatch(desc)
		r.Kind = KindSendFailed
		r.Target = int(mustInt64(m[1]))
		r.Clock = mustInt64(m[2])
	default:
		return Record{}, fmt.Errorf("event: unrecognized record %q", desc)
	}

	return r, nil
}

func mustInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// Recorder consumes event records. Implementations: the per-node log file
// writer, and trace collectors in tests.
type Recorder interface {
	Record(Record) error
}

// Nop is a Recorder that discards records.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(Record) error { return nil }
