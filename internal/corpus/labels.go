package corpus

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Labels holds the class label table: a dense mapping from class index to
// dialect/language name.
type Labels struct {
	names  []string
	byName map[string]int
}

// LoadLabels reads a labels CSV with rows "index,name". A header row is
// skipped when the first column is not numeric. Indices must be dense
// starting at zero.
func LoadLabels(path string) (*Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse labels file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}

	// Skip a header row like "index,name"
	if _, err := strconv.Atoi(strings.TrimSpace(records[0][0])); err != nil {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("labels file %s contains no label rows", path)
	}

	type row struct {
		index int
		name  string
	}
	rows := make([]row, 0, len(records))
	for i, rec := range records {
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("labels file %s row %d: invalid index %q", path, i+1, rec[0])
		}
		name := strings.TrimSpace(rec[1])
		if name == "" {
			return nil, fmt.Errorf("labels file %s row %d: empty label name", path, i+1)
		}
		rows = append(rows, row{index: idx, name: name})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })

	labels := &Labels{
		names:  make([]string, len(rows)),
		byName: make(map[string]int, len(rows)),
	}
	for i, r := range rows {
		if r.index != i {
			return nil, fmt.Errorf("labels file %s: indices must be dense from 0, got %d at position %d", path, r.index, i)
		}
		if _, dup := labels.byName[r.name]; dup {
			return nil, fmt.Errorf("labels file %s: duplicate label name %q", path, r.name)
		}
		labels.names[i] = r.name
		labels.byName[r.name] = i
	}

	return labels, nil
}

// NewLabels builds a label table from an ordered name list (used by the
// directory-scan mode and by tests).
func NewLabels(names []string) (*Labels, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("label table cannot be empty")
	}
	labels := &Labels{
		names:  make([]string, len(names)),
		byName: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("label name at index %d is empty", i)
		}
		if _, dup := labels.byName[name]; dup {
			return nil, fmt.Errorf("duplicate label name %q", name)
		}
		labels.names[i] = name
		labels.byName[name] = i
	}
	return labels, nil
}

// NumClasses returns the number of classes in the table
func (l *Labels) NumClasses() int {
	return len(l.names)
}

// Name returns the label name for a class index
func (l *Labels) Name(index int) (string, error) {
	if index < 0 || index >= len(l.names) {
		return "", fmt.Errorf("label index %d out of range [0, %d)", index, len(l.names))
	}
	return l.names[index], nil
}

// Index returns the class index for a label name
func (l *Labels) Index(name string) (int, error) {
	idx, ok := l.byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown label %q", name)
	}
	return idx, nil
}

// Names returns the label names ordered by class index
func (l *Labels) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}
