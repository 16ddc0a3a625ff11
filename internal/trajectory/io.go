package trajectory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// WriteTraces writes one sealed trace per line.
func WriteTraces(w io.Writer, traces []Trace) error {
	enc := json.NewEncoder(w)
	for _, t := range traces {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("encode trace %s: %w", t.Key(), err)
		}
	}
	return nil
}

// ReadTraces reads a trace-per-line stream and verifies every digest.
func ReadTraces(r io.Reader) ([]Trace, error) {
	var out []Trace
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var t Trace
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		if err := t.Verify(); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read traces: %w", err)
	}
	return out, nil
}
