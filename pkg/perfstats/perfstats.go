package perfstats

import "time"

// TimeAccumulator measures how long something takes, over many samples
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Last    time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Last = v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Summary is a JSON friendly view of a TimeAccumulator, in milliseconds
type Summary struct {
	Samples int64   `json:"samples"`
	AvgMS   float64 `json:"avgMS"`
	LastMS  float64 `json:"lastMS"`
	MaxMS   float64 `json:"maxMS"`
}

func (a *TimeAccumulator) Summary() Summary {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return Summary{
		Samples: a.Samples,
		AvgMS:   ms(a.Average()),
		LastMS:  ms(a.Last),
		MaxMS:   ms(a.Max),
	}
}
