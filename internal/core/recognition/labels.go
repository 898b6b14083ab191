package recognition

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseLabels liest eine labels.txt mit Zeilen der Form "<index> <name>".
// Leere Zeilen und Zeilen mit # werden ignoriert. Die Indizes müssen lückenlos bei 0 beginnen.
func ParseLabels(r io.Reader) ([]string, error) {
	byIndex := make(map[int]string)
	maxIndex := -1

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		idxStr, name, ok := strings.Cut(text, " ")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("line %d: expected \"<index> <name>\", got %q", line, text)
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("line %d: invalid label index %q", line, idxStr)
		}
		if _, dup := byIndex[idx]; dup {
			return nil, fmt.Errorf("line %d: duplicate label index %d", line, idx)
		}
		byIndex[idx] = name
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if maxIndex < 0 {
		return nil, fmt.Errorf("no labels found")
	}

	labels := make([]string, maxIndex+1)
	for i := range labels {
		name, ok := byIndex[i]
		if !ok {
			return nil, fmt.Errorf("label index %d missing", i)
		}
		labels[i] = name
	}
	return labels, nil
}

// LoadLabels liest die Labels aus einer Datei
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels, err := ParseLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}

// LabelIndex sucht den Index eines Namens (ohne Beachtung der Groß-/Kleinschreibung)
func LabelIndex(labels []string, name string) (int, bool) {
	for i, l := range labels {
		if strings.EqualFold(l, name) {
			return i, true
		}
	}
	return -1, false
}
