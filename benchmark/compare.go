package benchmark

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
)

// Delta compares one path's current gas with the stored run.
type Delta struct {
	PathID string
	Gas    uint64
	Stored uint64
	// NoData is set when the stored run has no entry for the path.
	NoData bool
}

// Change is Gas minus Stored; negative means the path got cheaper.
func (d Delta) Change() int64 {
	return int64(d.Gas) - int64(d.Stored)
}

// Compare matches every current entry against stored, ordered by path id.
func Compare(current, stored Artifact) []Delta {
	byID := make(map[string]uint64, len(stored))
	for _, e := range stored {
		byID[e.PathID] = e.Gas
	}
	out := make([]Delta, 0, len(current))
	for _, e := range current {
		d := Delta{PathID: e.PathID, Gas: e.Gas}
		if g, ok := byID[e.PathID]; ok {
			d.Stored = g
		} else {
			d.NoData = true
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathID < out[j].PathID })
	return out
}

var (
	worse  = color.New(color.FgRed)
	better = color.New(color.FgGreen)
	fresh  = color.New(color.FgGreen)
)

// Render prints one line per delta: more gas in red, less in green.
func Render(w io.Writer, deltas []Delta) error {
	for _, d := range deltas {
		var err error
		if d.NoData {
			_, err = fmt.Fprintf(w, "%s : %s %d\n", fresh.Sprint("NO_DATA"), d.PathID, d.Gas)
		} else {
			change := d.Change()
			label := fmt.Sprintf("%+d", change)
			switch {
			case change > 0:
				label = worse.Sprint(label)
			case change < 0:
				label = better.Sprint(label)
			default:
				label = "0"
			}
			_, err = fmt.Fprintf(w, "%s : %s %d - %d\n", label, d.PathID, d.Gas, d.Stored)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
