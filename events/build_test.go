package events

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hepnet/evclass/multibatch"
)

// writeSampleCSV writes n event rows with event numbers 1..n and constant
// feature values derived from tag, so provenance is visible in batches.
func writeSampleCSV(t *testing.T, dir, name string, tag, n int) {
	t.Helper()
	rows := make([]string, n)
	for i := range rows {
		rows[i] = fmt.Sprintf("%d.5,0.1,%d,1.0,%d", tag, tag%3, i+1)
	}
	writeCSV(t, filepath.Join(dir, name+".csv"), "pt,eta,channel,weight,eventnumber", rows)
}

func testBuild(t *testing.T) (*Dataset, []Sample) {
	t.Helper()
	tmp := t.TempDir()
	samples := []Sample{
		{Name: "sig400", Label: 0, Spin: 2, Mass: 400, LossWeight: 1},
		{Name: "ttbar", Label: 1, Spin: -1, Mass: -1, LossWeight: 1},
		{Name: "dy", Label: 1, Spin: -1, Mass: -1, LossWeight: 1},
	}
	for i, s := range samples {
		writeSampleCSV(t, tmp, s.Name, i+1, 20)
	}

	ds, err := Build(tmp, samples, BuildConfig{
		Columns:          testColumns,
		Fold:             FoldSplit{HeldOutFold: 0, ValidationFolds: 1, Seed: 7},
		ParameterizeMass: true,
		ParameterizeSpin: true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return ds, samples
}

func TestBuildSources(t *testing.T) {
	ds, samples := testBuild(t)

	if len(ds.Train) != len(samples) || len(ds.Valid) != len(samples) {
		t.Fatalf("expected %d train and valid sources, got %d/%d", len(samples), len(ds.Train), len(ds.Valid))
	}
	// Event numbers 1..20: 2 rows per fold digit, one fold held out, one
	// fold for validation, eight for training.
	for i, src := range ds.Train {
		if src.Rows() != 16 {
			t.Fatalf("train source %d has %d rows, want 16", i, src.Rows())
		}
	}
	for i, src := range ds.Valid {
		if src.Rows() != 2 {
			t.Fatalf("valid source %d has %d rows, want 2", i, src.Rows())
		}
	}
	if ds.TrainRows != 48 || ds.ValidRows != 6 {
		t.Fatalf("unexpected row totals: train=%d valid=%d", ds.TrainRows, ds.ValidRows)
	}

	// Widths include the appended mass and spin columns.
	if ds.ContWidth != 3 || ds.CatWidth != 2 {
		t.Fatalf("unexpected widths: cont=%d cat=%d", ds.ContWidth, ds.CatWidth)
	}
	if ds.NumClasses != 2 {
		t.Fatalf("expected 2 classes, got %d", ds.NumClasses)
	}

	// Class balance: the signal class has one sample, the background two.
	if w := ds.Train[0].Weight(); w != 1 {
		t.Fatalf("signal batch weight = %v, want 1", w)
	}
	if w := ds.Train[1].Weight(); w != 0.5 {
		t.Fatalf("background batch weight = %v, want 0.5", w)
	}

	// One-hot labels per sample.
	labels := ds.Train[1].Columns()[2].(*multibatch.Float32Column)
	if got := labels.Row(0); got[0] != 0 || got[1] != 1 {
		t.Fatalf("background label row = %v, want [0 1]", got)
	}

	// Parameterized columns carry the hypothesis or the -1 sentinel.
	cont := ds.Train[0].Columns()[0].(*multibatch.Float32Column)
	if got := cont.Row(0)[2]; got != 400 {
		t.Fatalf("signal mass column = %v, want 400", got)
	}
	cat := ds.Train[2].Columns()[1].(*multibatch.Int32Column)
	if got := cat.Row(0)[1]; got != -1 {
		t.Fatalf("background spin column = %v, want -1", got)
	}

	// Hypothesis grids.
	if len(ds.Masses) != 1 || ds.Masses[0] != 400 {
		t.Fatalf("mass grid = %v, want [400]", ds.Masses)
	}
	if len(ds.Spins) != 1 || ds.Spins[0] != 2 {
		t.Fatalf("spin grid = %v, want [2]", ds.Spins)
	}

	// The mass column statistics come from the grid, not the sentinels.
	if ds.ContMeans[2] != 400 || ds.ContVars[2] != 0 {
		t.Fatalf("mass stats = (%v, %v), want (400, 0)", ds.ContMeans[2], ds.ContVars[2])
	}
}

func TestBuildFeedsMultiBatcher(t *testing.T) {
	ds, _ := testBuild(t)

	mb, err := multibatch.New(ds.Train, 8,
		multibatch.WithSeed(11),
		multibatch.WithInputColumns(NumInputColumns),
		multibatch.WithTransform(ParameterInjector(ds.Masses, ds.Spins, 11)),
	)
	if err != nil {
		t.Fatalf("multibatch.New failed: %v", err)
	}

	// Signal carries weight 1, the two backgrounds 0.5 each: 4 + 2 + 2.
	sizes := mb.BatchSizes()
	if sizes[0] != 4 || sizes[1] != 2 || sizes[2] != 2 {
		t.Fatalf("batch plan = %v, want [4 2 2]", sizes)
	}

	batch, err := mb.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if batch.Rows() != 8 {
		t.Fatalf("combined batch has %d rows, want 8", batch.Rows())
	}

	// After injection no sentinel masses or spins remain.
	cont := batch.Columns[0].(*multibatch.Float32Column)
	for r := 0; r < cont.Rows(); r++ {
		if row := cont.Row(r); row[len(row)-1] < 0 {
			t.Fatalf("row %d still has sentinel mass %v", r, row[len(row)-1])
		}
	}
	cat := batch.Columns[1].(*multibatch.Int32Column)
	for r := 0; r < cat.Rows(); r++ {
		if row := cat.Row(r); row[len(row)-1] < 0 {
			t.Fatalf("row %d still has sentinel spin %v", r, row[len(row)-1])
		}
	}
}

func TestBatchWeights(t *testing.T) {
	weights := BatchWeights([]Sample{
		{Name: "s", Label: 0},
		{Name: "b1", Label: 1},
		{Name: "b2", Label: 1},
		{Name: "b3", Label: 1},
	})
	want := []float64{1, 1.0 / 3, 1.0 / 3, 1.0 / 3}
	for i := range want {
		if weights[i] != want[i] {
			t.Fatalf("weights[%d] = %v, want %v", i, weights[i], want[i])
		}
	}
}
