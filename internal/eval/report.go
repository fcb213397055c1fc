package eval

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	weakColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
)

// scoreColor picks the color band for a metric in [0, 1]
func scoreColor(v float64) *color.Color {
	switch {
	case v >= 0.8:
		return goodColor
	case v >= 0.5:
		return weakColor
	default:
		return badColor
	}
}

// WriteReport renders the per-class classification report
func (cm *ConfusionMatrix) WriteReport(w io.Writer) {
	nameWidth := len("macro avg")
	for _, name := range cm.names {
		if len(name) > nameWidth {
			nameWidth = len(name)
		}
	}

	headerColor.Fprintf(w, "%-*s  %9s  %9s  %9s  %9s\n", nameWidth, "class", "precision", "recall", "f1", "support")
	for _, s := range cm.ClassStats() {
		fmt.Fprintf(w, "%-*s  ", nameWidth, s.Name)
		scoreColor(s.Precision).Fprintf(w, "%9.4f  ", s.Precision)
		scoreColor(s.Recall).Fprintf(w, "%9.4f  ", s.Recall)
		scoreColor(s.F1).Fprintf(w, "%9.4f  ", s.F1)
		fmt.Fprintf(w, "%9d\n", s.Support)
	}

	fmt.Fprintf(w, "\n%-*s  %9.4f  %33d\n", nameWidth, "accuracy", cm.Accuracy(), cm.Total())
	fmt.Fprintf(w, "%-*s  %9s  %9s  %9.4f\n", nameWidth, "macro avg", "", "", cm.MacroF1())
}

// WriteMatrix renders the confusion matrix with true classes as rows
func (cm *ConfusionMatrix) WriteMatrix(w io.Writer) {
	nameWidth := len("true\\pred")
	cellWidth := 5
	for _, name := range cm.names {
		if len(name) > nameWidth {
			nameWidth = len(name)
		}
		if len(name) > cellWidth {
			cellWidth = len(name)
		}
	}

	headerColor.Fprintf(w, "%-*s", nameWidth, "true\\pred")
	for _, name := range cm.names {
		headerColor.Fprintf(w, "  %*s", cellWidth, name)
	}
	fmt.Fprintln(w)

	for i, name := range cm.names {
		fmt.Fprintf(w, "%-*s", nameWidth, name)
		for j := range cm.names {
			cell := fmt.Sprintf("%*d", cellWidth, cm.counts[i][j])
			switch {
			case i == j && cm.counts[i][j] > 0:
				goodColor.Fprintf(w, "  %s", cell)
			case i != j && cm.counts[i][j] > 0:
				badColor.Fprintf(w, "  %s", cell)
			default:
				fmt.Fprintf(w, "  %s", cell)
			}
		}
		fmt.Fprintln(w)
	}
}

// Summary returns a one-line result for logs
func (cm *ConfusionMatrix) Summary() string {
	return strings.TrimSpace(fmt.Sprintf("accuracy=%.4f macro_f1=%.4f examples=%d",
		cm.Accuracy(), cm.MacroF1(), cm.Total()))
}
