package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ProgressParser reads ffmpeg "-progress" key=value output and converts the
// encoded media time into a percentage of the expected total duration.
type ProgressParser struct {
	total time.Duration
}

func NewProgressParser(total time.Duration) *ProgressParser {
	return &ProgressParser{total: total}
}

// ParseLine returns the percentage represented by one progress line. ok is
// false for lines that carry no position.
func (pp *ProgressParser) ParseLine(line string) (percent int, ok bool) {
	line = strings.TrimSpace(line)
	key, value, found := strings.Cut(line, "=")
	if !found {
		return 0, false
	}
	switch key {
	case "progress":
		if value == "end" {
			return 100, true
		}
		return 0, false
	// out_time_ms is microseconds too, despite its name.
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 || pp.total <= 0 {
			return 0, false
		}
		p := int(time.Duration(us) * time.Microsecond * 100 / pp.total)
		if p > 100 {
			p = 100
		}
		return p, true
	}
	return 0, false
}

// Stream parses r until EOF, invoking callback whenever the percentage changes.
func (pp *ProgressParser) Stream(r io.Reader, callback func(percent int)) error {
	scanner := bufio.NewScanner(r)
	last := -1
	for scanner.Scan() {
		p, ok := pp.ParseLine(scanner.Text())
		if !ok || p == last {
			continue
		}
		last = p
		if callback != nil {
			callback(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading ffmpeg progress: %w", err)
	}
	return nil
}
