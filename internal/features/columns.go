package features

// CandidateColumns are the feature columns a model may train on, in order.
var CandidateColumns = []string{ColPM25, ColTemperature, ColHumidity, ColWindSpeed, ColHour, ColDayOfWeek, ColMonth}

// SelectColumns intersects the desired columns with those every sample
// carries. Column order follows desired. A column missing from even one sample
// is dropped and reported rather than failing later at fit time.
func SelectColumns(samples []Sample, desired []string) (kept, dropped []string) {
	for _, col := range desired {
		ok := len(samples) > 0
		for _, s := range samples {
			if _, has := s.Value(col); !has {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, col)
		} else {
			dropped = append(dropped, col)
		}
	}
	return kept, dropped
}

// Matrix builds the design matrix and target vector for the given columns.
func Matrix(samples []Sample, cols []string) ([][]float64, []float64, error) {
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		row, err := s.Vector(cols)
		if err != nil {
			return nil, nil, err
		}
		x[i] = row
		y[i] = s.Target
	}
	return x, y, nil
}
