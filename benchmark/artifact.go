// Package benchmark records the gas each swap path costs and compares runs.
package benchmark

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/defistate/defistate-arb/market"
)

// Entry is the gas measured for one path. It is stored as an [id, gas] pair.
type Entry struct {
	PathID string
	Gas    uint64
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.PathID, e.Gas})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("benchmark: entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("benchmark: entry has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.PathID); err != nil {
		return fmt.Errorf("benchmark: entry id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Gas); err != nil {
		return fmt.Errorf("benchmark: entry gas: %w", err)
	}
	return nil
}

// Artifact is a benchmark run ordered by path id.
type Artifact []Entry

// Sort orders the artifact by path id.
func (a Artifact) Sort() {
	sort.Slice(a, func(i, j int) bool { return a[i].PathID < a[j].PathID })
}

// Lookup returns the gas recorded for id.
func (a Artifact) Lookup(id string) (uint64, bool) {
	for _, e := range a {
		if e.PathID == id {
			return e.Gas, true
		}
	}
	return 0, false
}

// Measurement is one benchmarked path.
type Measurement struct {
	Path     market.SwapPath
	Gas      uint64
	Calldata []byte
}

// IDs assigns each measurement a stable artifact id. Paths sharing a token
// route are told apart by pool route: the first keeps the plain id and the
// rest get "#2", "#3" and so on.
func IDs(ms []Measurement) []string {
	order := make([]int, len(ms))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := ms[order[a]].Path, ms[order[b]].Path
		if pa.ID() != pb.ID() {
			return pa.ID() < pb.ID()
		}
		return pa.Key() < pb.Key()
	})

	ids := make([]string, len(ms))
	seen := make(map[string]int)
	for _, i := range order {
		base := ms[i].Path.ID()
		seen[base]++
		if n := seen[base]; n > 1 {
			ids[i] = base + "#" + strconv.Itoa(n)
		} else {
			ids[i] = base
		}
	}
	return ids
}

// FromMeasurements builds a sorted artifact.
func FromMeasurements(ms []Measurement) Artifact {
	ids := IDs(ms)
	a := make(Artifact, len(ms))
	for i, m := range ms {
		a[i] = Entry{PathID: ids[i], Gas: m.Gas}
	}
	a.Sort()
	return a
}

// Save writes a as indented JSON, sorted by path id.
func Save(path string, a Artifact) error {
	sorted := append(Artifact(nil), a...)
	sorted.Sort()
	if sorted == nil {
		sorted = Artifact{}
	}
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("benchmark: encode: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("benchmark: write %s: %w", path, err)
	}
	return nil
}

// Load reads an artifact written by Save.
func Load(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("benchmark: no artifact at %s: %w", path, err)
		}
		return nil, fmt.Errorf("benchmark: read %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("benchmark: decode %s: %w", path, err)
	}
	return a, nil
}
