// Package report renders training diagnostics with gonum/plot.
package report

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/hepnet/evclass/trainer"
)

// TrainingCurves writes a loss-vs-epoch plot of the training history to
// outPath (format derived from the extension, e.g. .png or .pdf).
func TrainingCurves(history trainer.History, outPath string) error {
	if len(history) == 0 {
		return errors.New("empty training history")
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}

	trainXY := make(plotter.XYs, 0, len(history))
	validXY := make(plotter.XYs, 0, len(history))
	for _, e := range history {
		trainXY = append(trainXY, plotter.XY{X: float64(e.Epoch), Y: e.TrainLoss})
		validXY = append(validXY, plotter.XY{X: float64(e.Epoch), Y: e.ValidLoss})
	}

	p := plot.New()
	p.Title.Text = "training history"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "weighted cross entropy"

	trainLine, err := plotter.NewLine(trainXY)
	if err != nil {
		return errors.Wrap(err, "failed to build training line")
	}
	trainLine.Color = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	trainLine.Width = vg.Points(1.2)

	validLine, err := plotter.NewLine(validXY)
	if err != nil {
		return errors.Wrap(err, "failed to build validation line")
	}
	validLine.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	validLine.Width = vg.Points(1.2)

	p.Add(plotter.NewGrid(), trainLine, validLine)
	p.Legend.Add("train", trainLine)
	p.Legend.Add("validation", validLine)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return errors.Wrap(err, "failed to save plot")
	}
	return nil
}

// LearningRateCurve writes the learning-rate schedule actually applied during
// training, making plateau reductions visible.
func LearningRateCurve(history trainer.History, outPath string) error {
	if len(history) == 0 {
		return errors.New("empty training history")
	}

	xy := make(plotter.XYs, 0, len(history))
	for _, e := range history {
		xy = append(xy, plotter.XY{X: float64(e.Epoch), Y: e.LearningRate})
	}

	p := plot.New()
	p.Title.Text = "learning rate schedule"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "learning rate"

	line, err := plotter.NewLine(xy)
	if err != nil {
		return errors.Wrap(err, "failed to build line")
	}
	line.Width = vg.Points(1.2)
	p.Add(plotter.NewGrid(), line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, outPath); err != nil {
		return errors.Wrap(err, "failed to save plot")
	}
	return nil
}
