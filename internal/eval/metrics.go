package eval

import (
	"fmt"
)

// ConfusionMatrix accumulates prediction outcomes. Rows are true classes,
// columns are predicted classes.
type ConfusionMatrix struct {
	names  []string
	counts [][]int
	total  int
}

// NewConfusionMatrix creates an empty matrix over the given class names
func NewConfusionMatrix(names []string) *ConfusionMatrix {
	counts := make([][]int, len(names))
	for i := range counts {
		counts[i] = make([]int, len(names))
	}
	return &ConfusionMatrix{names: names, counts: counts}
}

// Add records a batch of (true, predicted) pairs
func (cm *ConfusionMatrix) Add(truth, predicted []int32) error {
	if len(truth) != len(predicted) {
		return fmt.Errorf("length mismatch: %d truths, %d predictions", len(truth), len(predicted))
	}
	n := int32(len(cm.names))
	for i := range truth {
		if truth[i] < 0 || truth[i] >= n {
			return fmt.Errorf("true label %d out of range [0, %d)", truth[i], n)
		}
		if predicted[i] < 0 || predicted[i] >= n {
			return fmt.Errorf("predicted label %d out of range [0, %d)", predicted[i], n)
		}
		cm.counts[truth[i]][predicted[i]]++
		cm.total++
	}
	return nil
}

// Total returns the number of recorded examples
func (cm *ConfusionMatrix) Total() int {
	return cm.total
}

// Count returns the number of examples with the given true and predicted class
func (cm *ConfusionMatrix) Count(truth, predicted int) int {
	return cm.counts[truth][predicted]
}

// Accuracy is the fraction of examples on the matrix diagonal
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.total == 0 {
		return 0
	}
	correct := 0
	for i := range cm.counts {
		correct += cm.counts[i][i]
	}
	return float64(correct) / float64(cm.total)
}

// ClassStats holds per-class metrics for the report
type ClassStats struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassStats computes precision, recall and F1 per class. Classes with no
// predictions or no support score zero on the undefined metric.
func (cm *ConfusionMatrix) ClassStats() []ClassStats {
	stats := make([]ClassStats, len(cm.names))
	for i, name := range cm.names {
		tp := cm.counts[i][i]
		var fp, fn int
		for j := range cm.names {
			if j == i {
				continue
			}
			fp += cm.counts[j][i]
			fn += cm.counts[i][j]
		}

		s := ClassStats{Name: name, Support: tp + fn}
		if tp+fp > 0 {
			s.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			s.Recall = float64(tp) / float64(tp+fn)
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		stats[i] = s
	}
	return stats
}

// MacroF1 averages per-class F1 with equal class weight
func (cm *ConfusionMatrix) MacroF1() float64 {
	stats := cm.ClassStats()
	if len(stats) == 0 {
		return 0
	}
	var sum float64
	for _, s := range stats {
		sum += s.F1
	}
	return sum / float64(len(stats))
}
