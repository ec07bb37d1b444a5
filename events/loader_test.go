package events

import (
	"os"
	"path/filepath"
	"testing"
)

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create csv %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(header + "\n"); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	for _, r := range rows {
		if _, err := f.WriteString(r + "\n"); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
}

var testColumns = Columns{
	Continuous:  []string{"pt", "eta"},
	Categorical: []string{"channel"},
	Weight:      "weight",
	EventNumber: "eventnumber",
}

func TestLoaderReadsSample(t *testing.T) {
	tmp := t.TempDir()
	writeCSV(t, filepath.Join(tmp, "ttbar.csv"), "pt,eta,channel,weight,eventnumber", []string{
		"50.5,1.2,0,0.5,11",
		"30.0,-0.7,1,1.5,12",
		"80.2,0.1,2,1.0,23",
	})

	loader := &Loader{DataDir: tmp, Columns: testColumns}
	data, err := loader.LoadAll([]Sample{{Name: "ttbar", Label: 0, LossWeight: 2}})
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	d := data[0]

	if d.rows != 3 {
		t.Fatalf("expected 3 rows, got %d", d.rows)
	}
	wantCont := []float32{50.5, 1.2, 30.0, -0.7, 80.2, 0.1}
	for i, v := range wantCont {
		if d.cont[i] != v {
			t.Fatalf("cont[%d] = %v, want %v", i, d.cont[i], v)
		}
	}
	wantCat := []int32{0, 1, 2}
	for i, v := range wantCat {
		if d.cat[i] != v {
			t.Fatalf("cat[%d] = %v, want %v", i, d.cat[i], v)
		}
	}
	// Loss weight 2 scales every event weight.
	wantWeights := []float32{1.0, 3.0, 2.0}
	for i, v := range wantWeights {
		if d.weights[i] != v {
			t.Fatalf("weights[%d] = %v, want %v", i, d.weights[i], v)
		}
	}
	if d.events[2] != 23 {
		t.Fatalf("events[2] = %d, want 23", d.events[2])
	}
}

func TestLoaderParallelLoadKeepsSampleOrder(t *testing.T) {
	tmp := t.TempDir()
	header := "pt,eta,channel,weight,eventnumber"
	writeCSV(t, filepath.Join(tmp, "a.csv"), header, []string{"1,0,0,1,1"})
	writeCSV(t, filepath.Join(tmp, "b.csv"), header, []string{"2,0,0,1,1", "3,0,0,1,2"})
	writeCSV(t, filepath.Join(tmp, "c.csv"), header, []string{"4,0,0,1,3", "5,0,0,1,4", "6,0,0,1,5"})

	loader := &Loader{DataDir: tmp, Columns: testColumns, Workers: 2}
	data, err := loader.LoadAll([]Sample{
		{Name: "a", LossWeight: 1},
		{Name: "b", LossWeight: 1},
		{Name: "c", LossWeight: 1},
	})
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	for i, want := range []int{1, 2, 3} {
		if data[i].rows != want {
			t.Fatalf("sample %d has %d rows, want %d", i, data[i].rows, want)
		}
	}
	if data[2].cont[0] != 4 {
		t.Fatalf("sample c first pt = %v, want 4", data[2].cont[0])
	}
}

func TestLoaderMissingColumn(t *testing.T) {
	tmp := t.TempDir()
	// header missing eventnumber
	writeCSV(t, filepath.Join(tmp, "bad.csv"), "pt,eta,channel,weight", []string{"1,0,0,1"})

	loader := &Loader{DataDir: tmp, Columns: testColumns}
	if _, err := loader.LoadAll([]Sample{{Name: "bad", LossWeight: 1}}); err == nil {
		t.Fatalf("expected error when required column is missing, got nil")
	}
}

func TestLoaderEmptySample(t *testing.T) {
	tmp := t.TempDir()
	writeCSV(t, filepath.Join(tmp, "empty.csv"), "pt,eta,channel,weight,eventnumber", nil)

	loader := &Loader{DataDir: tmp, Columns: testColumns}
	if _, err := loader.LoadAll([]Sample{{Name: "empty", LossWeight: 1}}); err == nil {
		t.Fatalf("expected error for a sample without events, got nil")
	}
}
