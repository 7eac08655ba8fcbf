package seal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrMissingDecision reports a decision id absent from the decision log.
var ErrMissingDecision = errors.New("seal: decision not found")

// ErrMissingInput reports a referenced input file that does not exist.
var ErrMissingInput = errors.New("seal: input file not found")

// FileEntry is one hashed input reference.
type FileEntry struct {
	Path   string
	SHA256 string
}

// Decision is one row of the backing decision log.
type Decision struct {
	ID            string
	Title         string
	Status        string
	ConfidencePct float64
	PriorityScore float64
}

// LoadDecision reads decision_log.csv under dataDir and returns the row
// with the given id.
func LoadDecision(dataDir, decisionID string) (*Decision, error) {
	path := filepath.Join(dataDir, "decision_log.csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("seal: parse %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%w: %s in empty log", ErrMissingDecision, decisionID)
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	for _, row := range records[1:] {
		if field(row, "DecisionID") != decisionID {
			continue
		}
		return &Decision{
			ID:            decisionID,
			Title:         field(row, "Title"),
			Status:        field(row, "Status"),
			ConfidencePct: parseFloat(field(row, "Confidence_pct")),
			PriorityScore: parseFloat(field(row, "PriorityScore")),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingDecision, decisionID)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// hashGlob hashes every file under dir whose name matches one of the
// suffixes, sorted by relative path. Paths are reported relative to base.
func hashGlob(dir, base string, suffixes ...string) ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasSuffix(path, suffixes) {
			return nil
		}
		h, err := HashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			rel = path
		}
		entries = append(entries, FileEntry{Path: filepath.ToSlash(rel), SHA256: h})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func hasSuffix(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func hashes(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.SHA256
	}
	return out
}

func paths(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func entriesToDocs(entries []FileEntry) []interface{} {
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{"path": e.Path, "sha256": e.SHA256}
	}
	return out
}
