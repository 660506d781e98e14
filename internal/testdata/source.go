// Package testdata supplies per-iteration variable bindings to
// scenario schedulers. All sources here are safe for concurrent use:
// a single source instance is shared by every actor of a scenario.
package testdata

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/stridekit/stride/internal/scenario"
)

// InMemory hands out a fixed list of bindings in order, one per fetch,
// then reports exhaustion. It is the bounded-iteration source: a
// scenario ends gracefully once the rows run out.
type InMemory struct {
	mu   sync.Mutex
	rows []scenario.VariableBindings
	next int
}

// NewInMemory creates a source over rows. The slice is not copied.
func NewInMemory(rows ...scenario.VariableBindings) *InMemory {
	return &InMemory{rows: rows}
}

// Next implements scenario.TestdataSource.
func (s *InMemory) Next(_ context.Context, _ string) (scenario.VariableBindings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.rows) {
		return nil, nil
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

// Remaining reports how many rows are left.
func (s *InMemory) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows) - s.next
}

// Repeat returns the same bindings on every fetch, forever. Combine
// with Limit for a bounded run without a data file.
type Repeat struct {
	Bindings scenario.VariableBindings
}

// Next implements scenario.TestdataSource.
func (s Repeat) Next(_ context.Context, _ string) (scenario.VariableBindings, error) {
	if s.Bindings == nil {
		return scenario.VariableBindings{}, nil
	}
	return s.Bindings, nil
}

// Limit wraps a source and reports exhaustion after n successful
// fetches across all actors.
func Limit(src scenario.TestdataSource, n int) scenario.TestdataSource {
	return &limited{src: src, left: n}
}

type limited struct {
	mu   sync.Mutex
	src  scenario.TestdataSource
	left int
}

func (l *limited) Next(ctx context.Context, scenarioID string) (scenario.VariableBindings, error) {
	l.mu.Lock()
	if l.left <= 0 {
		l.mu.Unlock()
		return nil, nil
	}
	l.left--
	l.mu.Unlock()

	bindings, err := l.src.Next(ctx, scenarioID)
	if err != nil || bindings == nil {
		l.mu.Lock()
		l.left++
		l.mu.Unlock()
	}
	return bindings, err
}

// LoadJSONLines reads a JSON-lines file into an InMemory source: one
// JSON object per non-empty line, each object becoming the bindings of
// one iteration.
func LoadJSONLines(path string) (*InMemory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open testdata file: %w", err)
	}
	defer f.Close()

	var rows []scenario.VariableBindings
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		if !gjson.Valid(line) {
			return nil, fmt.Errorf("testdata %s:%d: invalid JSON", path, lineNo)
		}
		parsed := gjson.Parse(line)
		if !parsed.IsObject() {
			return nil, fmt.Errorf("testdata %s:%d: expected a JSON object", path, lineNo)
		}
		bindings := make(scenario.VariableBindings)
		for key, value := range parsed.Map() {
			bindings[key] = value.Value()
		}
		rows = append(rows, bindings)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read testdata file: %w", err)
	}
	return NewInMemory(rows...), nil
}
