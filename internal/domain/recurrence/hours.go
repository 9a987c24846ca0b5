package recurrence

// SessionsPerWeek is the average number of lessons per calendar week.
// Biweekly rules average half their listed days.
func (r Rule) SessionsPerWeek() float64 {
	switch r.Frequency {
	case Daily:
		return 7
	case Weekly:
		return float64(len(r.Days))
	case Biweekly:
		return float64(len(r.Days)) / 2
	default:
		return 0
	}
}

// WeeklyHours is the teaching load the rule implies per week.
func (r Rule) WeeklyHours() float64 {
	return r.SessionsPerWeek() * float64(r.DurationMinutes) / 60
}

// ContractHours is the total teaching time of total sessions.
func (r Rule) ContractHours(total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(total*r.DurationMinutes) / 60
}
