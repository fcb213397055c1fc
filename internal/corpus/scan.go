package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// audioExtensions lists the decodable file types for directory scans
var audioExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
}

// ScanDir builds a manifest from a directory where every class label is a
// subdirectory of audio files. perClassCap limits entries per class (0 =
// unlimited). The result is shuffled deterministically with seed so that
// truncation keeps a class mix rather than one directory's prefix.
func ScanDir(dir string, labels *Labels, perClassCap int, seed int64) (*Manifest, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus dir %s: %w", dir, err)
	}

	manifest := &Manifest{}
	seen := make(map[int]int)

	// Deterministic class order regardless of readdir order
	classDirs := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			classDirs = append(classDirs, de.Name())
		}
	}
	sort.Strings(classDirs)

	for _, className := range classDirs {
		label, err := labels.Index(className)
		if err != nil {
			// Unlisted directories (scratch dirs, hidden splits) are skipped
			continue
		}

		classPath := filepath.Join(dir, className)
		files, err := os.ReadDir(classPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read class dir %s: %w", classPath, err)
		}

		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if audioExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			if perClassCap > 0 && seen[label] >= perClassCap {
				break
			}
			manifest.Entries = append(manifest.Entries, Entry{
				Path:  filepath.Join(classPath, name),
				Label: label,
			})
			seen[label]++
		}
	}

	if len(manifest.Entries) == 0 {
		return nil, fmt.Errorf("no audio files found under %s for the configured labels", dir)
	}

	manifest.Shuffle(seed)
	return manifest, nil
}

// Load builds a split manifest: the CSV manifest when metadataFile exists
// under dir, the directory scan otherwise.
func Load(dir, metadataFile string, labels *Labels, perClassCap int, seed int64) (*Manifest, error) {
	if _, err := os.Stat(filepath.Join(dir, metadataFile)); err == nil {
		return LoadManifest(dir, metadataFile, labels)
	}
	return ScanDir(dir, labels, perClassCap, seed)
}
