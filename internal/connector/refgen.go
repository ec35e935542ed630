package connector

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RefGenerator issues channel reference numbers of the form
// PREFIX + YYYYMMDD + 10-digit sequence + 6 random hex characters.
// The sequence is process-wide monotonic, so numbers never collide within a
// process regardless of clock resolution; the random suffix keeps restarted
// processes from reissuing an earlier number.
type RefGenerator struct {
	prefix string
	seq    atomic.Uint64
	now    func() time.Time
}

func NewRefGenerator(prefix string) *RefGenerator {
	return &RefGenerator{prefix: prefix, now: time.Now}
}

func (g *RefGenerator) Next() string {
	n := g.seq.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s%s%010d%s", g.prefix, g.now().Format("20060102"), n, strings.ToUpper(suffix))
}

// Stamps formats t as the DDMMYYYY date and hhmmss time used in channel payloads.
func Stamps(t time.Time) (date, clock string) {
	return t.Format("02012006"), t.Format("150405")
}
