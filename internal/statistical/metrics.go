package statistical

import (
	"sort"
)

// BinaryMetrics evaluates the delete-vs-preserve model on held-out rows
type BinaryMetrics struct {
	Accuracy  float64 `msgpack:"accuracy" json:"accuracy"`
	Precision float64 `msgpack:"precision" json:"precision"`
	Recall    float64 `msgpack:"recall" json:"recall"`
	F1        float64 `msgpack:"f1" json:"f1"`
	AUC       float64 `msgpack:"auc" json:"auc"`
	Support   int     `msgpack:"support" json:"support"`
}

// EvaluateBinary scores probabilities against truth at the 0.5 threshold
func EvaluateBinary(truth []bool, probs []float64) BinaryMetrics {
	var tp, fp, tn, fn int
	for i, p := range probs {
		predicted := p >= 0.5
		switch {
		case predicted && truth[i]:
			tp++
		case predicted && !truth[i]:
			fp++
		case !predicted && !truth[i]:
			tn++
		default:
			fn++
		}
	}
	m := BinaryMetrics{Support: len(probs), AUC: AUC(truth, probs)}
	if len(probs) > 0 {
		m.Accuracy = float64(tp+tn) / float64(len(probs))
	}
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	m.F1 = f1(m.Precision, m.Recall)
	return m
}

// AUC is the area under the ROC curve computed as the Mann-Whitney rank
// statistic, with tied scores sharing their average rank. It is 0.5 when
// either class is absent.
func AUC(truth []bool, probs []float64) float64 {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	ranks := make([]float64, len(probs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && probs[idx[j+1]] == probs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	var rankSum float64
	for i, t := range truth {
		if t {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - float64(pos*(pos+1))/2) / float64(pos*neg)
}

// ClassMetrics is precision and recall for one category
type ClassMetrics struct {
	Precision float64 `msgpack:"precision" json:"precision"`
	Recall    float64 `msgpack:"recall" json:"recall"`
	F1        float64 `msgpack:"f1" json:"f1"`
	Support   int     `msgpack:"support" json:"support"`
}

// MulticlassMetrics evaluates the category model on held-out rows
type MulticlassMetrics struct {
	Accuracy   float64                 `msgpack:"accuracy" json:"accuracy"`
	MacroF1    float64                 `msgpack:"macro_f1" json:"macro_f1"`
	WeightedF1 float64                 `msgpack:"weighted_f1" json:"weighted_f1"`
	PerClass   map[string]ClassMetrics `msgpack:"per_class" json:"per_class"`
}

// EvaluateMulticlass compares predicted class indexes with truth
func EvaluateMulticlass(truth, predicted []int, enc *LabelEncoder) MulticlassMetrics {
	k := len(enc.Classes)
	tp := make([]int, k)
	fp := make([]int, k)
	fn := make([]int, k)
	correct := 0
	for i, t := range truth {
		p := predicted[i]
		if p == t {
			tp[t]++
			correct++
			continue
		}
		fp[p]++
		fn[t]++
	}

	m := MulticlassMetrics{PerClass: make(map[string]ClassMetrics, k)}
	if len(truth) > 0 {
		m.Accuracy = float64(correct) / float64(len(truth))
	}
	present := 0
	for c := 0; c < k; c++ {
		support := tp[c] + fn[c]
		cm := ClassMetrics{
			Precision: ratio(tp[c], tp[c]+fp[c]),
			Recall:    ratio(tp[c], support),
			Support:   support,
		}
		cm.F1 = f1(cm.Precision, cm.Recall)
		m.PerClass[string(enc.Decode(c))] = cm
		if support > 0 {
			present++
			m.MacroF1 += cm.F1
			m.WeightedF1 += cm.F1 * float64(support)
		}
	}
	if present > 0 {
		m.MacroF1 /= float64(present)
	}
	if len(truth) > 0 {
		m.WeightedF1 /= float64(len(truth))
	}
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}
