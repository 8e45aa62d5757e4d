package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/ironsheep/image-queue-server/internal/protocol"
)

// Format selects the audit line layout.
type Format int

const (
	Standard Format = iota
	Extended
)

func (f Format) String() string {
	switch f {
	case Standard:
		return "standard"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat converts "standard" or "extended" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "":
		return Standard, nil
	case "extended":
		return Extended, nil
	default:
		return Standard, fmt.Errorf("invalid audit format: %q", s)
	}
}

// Outcome classifies an audit record.
type Outcome int

const (
	Completed Outcome = iota
	Rejected
	NotAdmitted
)

// RouterID is the Worker value of records produced by the request router.
const RouterID = -1

// Record is everything an audit line is built from.
type Record struct {
	Worker  int
	Outcome Outcome
	Job     protocol.Meta

	// ResultImage is the handle carried by the response, 0 on rejection.
	ResultImage uint64
}

// Line renders rec in format f, without a trailing newline.
func Line(rec Record, f Format) string {
	j := &rec.Job
	if rec.Outcome == NotAdmitted {
		return fmt.Sprintf("X%d:%s,%s,%s", j.ID,
			Timestamp(j.SentAt), Duration(j.Length), Timestamp(j.Received))
	}

	var b strings.Builder
	if rec.Worker >= 0 {
		fmt.Fprintf(&b, "T%d ", rec.Worker)
	}
	tag := "R"
	if rec.Outcome == Rejected {
		tag = "E"
	}
	fmt.Fprintf(&b, "%s%d:%s,", tag, j.ID, Timestamp(j.SentAt))

	if f == Extended {
		overwrite := 0
		if j.Overwrite {
			overwrite = 1
		}
		fmt.Fprintf(&b, "%s,%d,%d,%d,", j.Op, overwrite, j.ImageID, rec.ResultImage)
	} else {
		fmt.Fprintf(&b, "%s,", Duration(j.Length))
	}

	fmt.Fprintf(&b, "%s,%s,%s", Timestamp(j.Received), Timestamp(j.Started), Timestamp(j.Completed))
	return b.String()
}

// SnapshotLine renders a queue snapshot.
func SnapshotLine(ids []uint64) string {
	var b strings.Builder
	b.WriteString("Q:[")
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "R%d", id)
	}
	b.WriteByte(']')
	return b.String()
}

// Timestamp formats t as seconds with six decimals. The zero time renders as
// 0.000000.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "0.000000"
	}
	sec, usec := t.Unix(), t.Nanosecond()/1000
	if sec < 0 && usec > 0 {
		return fmt.Sprintf("-%d.%06d", -(sec + 1), 1000000-usec)
	}
	return fmt.Sprintf("%d.%06d", sec, usec)
}

// Duration formats d as seconds with six decimals.
func Duration(d time.Duration) string {
	sign := ""
	u := uint64(d)
	if d < 0 {
		sign = "-"
		u = uint64(-(d + 1)) + 1
	}
	const sec, usec = uint64(time.Second), uint64(time.Microsecond)
	return fmt.Sprintf("%s%d.%06d", sign, u/sec, (u%sec)/usec)
}
