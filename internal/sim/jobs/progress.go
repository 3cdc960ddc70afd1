package jobs

// ProgressFraction maps accumulated progress onto [0,1] for a job duration.
func ProgressFraction(progress, duration float64) float64 {
	if duration <= 0 {
		return 1
	}
	return clamp01(progress / duration)
}

// SkillRate is the per-tick progress an agent makes on a job type: one unit
// plus ten percent per skill level.
func SkillRate(a Agent, jobType string) float64 {
	lvl := a.Skills[jobType]
	if lvl < 0 {
		lvl = 0
	}
	return 1 + float64(lvl)/10
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
