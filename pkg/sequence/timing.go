package sequence

import "sort"

// tempoPoint anchors a tempo segment in both tick and second coordinates
type tempoPoint struct {
	tick    int64
	seconds float64
	qpm     float64
}

// tempoMap places tempo changes given in seconds on the tick grid written
// to MIDI files
type tempoMap struct {
	ticksPerQuarter float64
	points          []tempoPoint
}

// newSecondsTempoMap builds a map from tempos positioned in seconds
func newSecondsTempoMap(tpq uint16, tempos []Tempo) *tempoMap {
	sorted := make([]Tempo, len(tempos))
	copy(sorted, tempos)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	m := &tempoMap{ticksPerQuarter: float64(tpq)}
	m.points = append(m.points, tempoPoint{qpm: DefaultQPM})
	for _, t := range sorted {
		if t.QPM <= 0 || t.Time < 0 {
			continue
		}
		last := m.points[len(m.points)-1]
		if t.Time <= last.seconds {
			m.points[len(m.points)-1].qpm = t.QPM
			continue
		}
		m.points = append(m.points, tempoPoint{
			tick:    last.tick + int64((t.Time-last.seconds)*last.qpm/60*m.ticksPerQuarter+0.5),
			seconds: t.Time,
			qpm:     t.QPM,
		})
	}
	return m
}

func (m *tempoMap) ticks(seconds float64) int64 {
	i := sort.Search(len(m.points), func(i int) bool { return m.points[i].seconds > seconds }) - 1
	if i < 0 {
		i = 0
	}
	p := m.points[i]
	t := p.tick + int64((seconds-p.seconds)*p.qpm/60*m.ticksPerQuarter+0.5)
	if t < 0 {
		return 0
	}
	return t
}
