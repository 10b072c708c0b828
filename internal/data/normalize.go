package data

import "math"

// Normalize rescales every lead to zero mean and unit variance in place.
// Flat leads are only centred.
func Normalize(rec *Record) {
	for _, lead := range rec.Signal {
		if len(lead) == 0 {
			continue
		}
		var mean float64
		for _, v := range lead {
			mean += v
		}
		mean /= float64(len(lead))
		var variance float64
		for _, v := range lead {
			variance += (v - mean) * (v - mean)
		}
		var std = math.Sqrt(variance / float64(len(lead)))
		for i, v := range lead {
			if std > 1e-12 {
				lead[i] = (v - mean) / std
			} else {
				lead[i] = v - mean
			}
		}
	}
}
