package stats

// TauU computes the Tau-U non-overlap effect size between an
// intervention baseline phase (A) and a treatment phase (B).
//
// Every A/B pair is compared: pairs where B > A count as positive,
// pairs where B < A count as negative, ties count as zero. The effect
// size is (positive - negative) / (len(A) * len(B)) and lies in
// [-1, 1]. Positive values mean the treatment phase runs higher than
// baseline.
//
// This is the local implementation of the intervention-outcome
// capability; callers may substitute an external one.
func TauU(phaseA, phaseB []float64) float64 {
	if len(phaseA) == 0 || len(phaseB) == 0 {
		return 0
	}
	var pos, neg int
	for _, a := range phaseA {
		for _, b := range phaseB {
			switch {
			case b > a:
				pos++
			case b < a:
				neg++
			}
		}
	}
	return float64(pos-neg) / float64(len(phaseA)*len(phaseB))
}
