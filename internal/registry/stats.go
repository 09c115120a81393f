package registry

import "time"

// GetStatistics summarizes the catalog.
func (r *Registry) GetStatistics() Statistics {
	now := r.clock.Now()
	st := Statistics{
		ByType:     map[string]int{},
		ByRegion:   map[string]int{},
		ByCategory: map[string]int{},
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum float64
	for _, s := range r.sources {
		st.Total++
		if s.Enabled {
			st.Enabled++
		}
		st.ByType[string(s.Type)]++
		st.ByRegion[s.Region]++
		st.ByCategory[s.Category]++
		sum += s.Reliability
		if s.LastChecked != nil && now.Sub(*s.LastChecked) < 24*time.Hour && s.SuccessRate < 0.5 {
			st.Underperforming++
		}
	}
	if st.Total > 0 {
		st.MeanReliability = sum / float64(st.Total)
	}
	return st
}
