package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// appendTransitions flushes queued score transitions to the append-only
// JSONL log, one transition per line.
func (s *Store) appendTransitions() error {
	if len(s.transitions) == 0 {
		return nil
	}
	path := filepath.Join(s.dir, scoreHistoryFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, tr := range s.transitions {
		line, err := json.Marshal(tr)
		if err != nil {
			return fmt.Errorf("store: marshal transition: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("store: flush %s: %w", path, err)
	}
	s.transitions = nil
	return nil
}

// ScoreTransitions reads the full transition log. Missing file yields an
// empty slice; corrupt lines are skipped with a log message.
func (s *Store) ScoreTransitions() ([]ScoreTransition, error) {
	path := filepath.Join(s.dir, scoreHistoryFile)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	var out []ScoreTransition
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tr ScoreTransition
		if err := json.Unmarshal(line, &tr); err != nil {
			log.Printf("[store] %s line %d corrupt: %v", scoreHistoryFile, lineNo, err)
			continue
		}
		out = append(out, tr)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("store: scan %s: %w", path, err)
	}
	return out, nil
}
