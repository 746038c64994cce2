package backup

import (
	"context"
	"fmt"
	"math/bits"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"dbrewind/internal/source"
)

// patientsForMask selects rows from a fixed pool of eight primary keys by
// bitmask. The name carries the step so a key kept across steps becomes an
// update rather than a no-op.
func patientsForMask(mask uint8, step int) []source.Row {
	var rows []source.Row
	for i := 0; i < 8; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		rows = append(rows, source.Row{
			"id":   int64(i + 1),
			"name": fmt.Sprintf("p%d-s%d", i+1, step),
		})
	}
	return rows
}

func TestDeltaChainEquivalenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a delta chain replays to the same state as a fresh full backup", prop.ForAll(
		func(masks []uint8) bool {
			engine, _ := newTestEngine(t, patientVersion("1"))
			src := source.NewMemoryStore()

			headID := ""
			for step, mask := range masks {
				src.Seed("patient", patientsForMask(mask, step))
				meta, err := engine.Backup(context.Background(), "1", src, headID)
				if err != nil {
					return false
				}
				headID = meta.ID
			}

			chained, _, _, err := engine.Snapshot(context.Background(), headID)
			if err != nil {
				return false
			}

			freshEngine, _ := newTestEngine(t, patientVersion("1"))
			full, err := freshEngine.Backup(context.Background(), "1", src, "")
			if err != nil {
				return false
			}
			direct, _, _, err := freshEngine.Snapshot(context.Background(), full.ID)
			if err != nil {
				return false
			}

			return reflect.DeepEqual(direct["patient"], chained["patient"])
		},
		gen.SliceOfN(4, gen.UInt8()),
	))

	properties.Property("net tombstones never overlap the surviving rows", prop.ForAll(
		func(firstMask, secondMask uint8) bool {
			engine, _ := newTestEngine(t, patientVersion("1"))
			src := source.NewMemoryStore()

			src.Seed("patient", patientsForMask(firstMask, 0))
			base, err := engine.Backup(context.Background(), "1", src, "")
			if err != nil {
				return false
			}

			src.Seed("patient", patientsForMask(secondMask, 1))
			delta, err := engine.Backup(context.Background(), "1", src, base.ID)
			if err != nil {
				return false
			}

			snapshot, tombstones, _, err := engine.Snapshot(context.Background(), delta.ID)
			if err != nil {
				return false
			}

			alive := make(map[int64]bool)
			for _, row := range snapshot["patient"] {
				alive[row["id"].(int64)] = true
			}
			for _, key := range tombstones["patient"] {
				if alive[key["id"].(int64)] {
					return false
				}
			}
			return len(tombstones["patient"]) == bits.OnesCount8(firstMask&^secondMask)
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
