package corpus

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Segment is a half-open sample range [Start, Stop) within an audio file.
// A nil *Segment means the whole file.
type Segment struct {
	Start int
	Stop  int
}

// ParseSegment parses the manifest segment notation "start_stop", both in
// samples at the source rate.
func ParseSegment(s string) (*Segment, error) {
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid segment %q: expected \"start_stop\"", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid segment start %q: %w", parts[0], err)
	}
	stop, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid segment stop %q: %w", parts[1], err)
	}
	if start < 0 || stop <= start {
		return nil, fmt.Errorf("invalid segment %q: need 0 <= start < stop", s)
	}
	return &Segment{Start: start, Stop: stop}, nil
}

// Entry is a single training or evaluation example
type Entry struct {
	Path    string
	Label   int
	Segment *Segment
}

// Manifest is an ordered list of corpus entries for one split
type Manifest struct {
	Entries []Entry
}

// Len returns the number of entries
func (m *Manifest) Len() int {
	return len(m.Entries)
}

// Shuffle reorders entries deterministically for the given seed
func (m *Manifest) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(m.Entries), func(i, j int) {
		m.Entries[i], m.Entries[j] = m.Entries[j], m.Entries[i]
	})
}

// Truncate keeps at most n entries. n <= 0 is a no-op.
func (m *Manifest) Truncate(n int) {
	if n > 0 && n < len(m.Entries) {
		m.Entries = m.Entries[:n]
	}
}

// ClassCounts returns per-class entry counts
func (m *Manifest) ClassCounts(numClasses int) []int {
	counts := make([]int, numClasses)
	for _, e := range m.Entries {
		if e.Label >= 0 && e.Label < numClasses {
			counts[e.Label]++
		}
	}
	return counts
}

// LoadManifest reads a split manifest CSV with rows "file,label[,segment]".
// Relative file paths are resolved against dir. Labels may be given either
// as class names or numeric indices.
func LoadManifest(dir, metadataFile string, labels *Labels) (*Manifest, error) {
	path := filepath.Join(dir, metadataFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // segment column is optional

	manifest := &Manifest{}
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
		line++

		if len(rec) < 2 {
			return nil, fmt.Errorf("manifest %s line %d: expected at least 2 columns, got %d", path, line, len(rec))
		}

		file := strings.TrimSpace(rec[0])
		labelField := strings.TrimSpace(rec[1])

		// Skip a header row like "file,label"
		if line == 1 && strings.EqualFold(file, "file") {
			continue
		}
		if file == "" {
			return nil, fmt.Errorf("manifest %s line %d: empty file path", path, line)
		}

		label, err := resolveLabel(labelField, labels)
		if err != nil {
			return nil, fmt.Errorf("manifest %s line %d: %w", path, line, err)
		}

		entry := Entry{Path: file, Label: label}
		if !filepath.IsAbs(entry.Path) {
			entry.Path = filepath.Join(dir, entry.Path)
		}

		if len(rec) >= 3 && strings.TrimSpace(rec[2]) != "" {
			segment, err := ParseSegment(strings.TrimSpace(rec[2]))
			if err != nil {
				return nil, fmt.Errorf("manifest %s line %d: %w", path, line, err)
			}
			entry.Segment = segment
		}

		manifest.Entries = append(manifest.Entries, entry)
	}

	if len(manifest.Entries) == 0 {
		return nil, fmt.Errorf("manifest %s contains no entries", path)
	}

	return manifest, nil
}

// resolveLabel accepts either a class name or a numeric class index
func resolveLabel(field string, labels *Labels) (int, error) {
	if idx, err := strconv.Atoi(field); err == nil {
		if idx < 0 || idx >= labels.NumClasses() {
			return 0, fmt.Errorf("label index %d out of range [0, %d)", idx, labels.NumClasses())
		}
		return idx, nil
	}
	return labels.Index(field)
}
