package challenge

// ScoreRow is one line of the scoreboard, best first.
type ScoreRow struct {
	UserID              string `json:"userId"`
	Username            string `json:"username"`
	DisplayName         string `json:"displayName"`
	Points              int    `json:"points"`
	ChallengesCompleted int    `json:"challengesCompleted"`
}

// Completion is the minimal assignment record used for stats.
type Completion struct {
	UserID    string
	Completed bool
	Outcome   Outcome
}

type Stats struct {
	Found          bool `json:"found"`
	Rank           int  `json:"rank"`
	Points         int  `json:"points"`
	TotalAssigned  int  `json:"totalAssigned"`
	TotalCompleted int  `json:"totalCompleted"`
}

// ComputeStats derives a user's rank (1-based scoreboard position, 0 when
// absent) and completion totals from their active assignments.
func ComputeStats(scoreboard []ScoreRow, userID string, assigned []Completion) Stats {
	var st Stats
	for i, row := range scoreboard {
		if row.UserID == userID {
			st.Found = true
			st.Rank = i + 1
			st.Points = row.Points
			break
		}
	}
	st.TotalAssigned = len(assigned)
	for _, a := range assigned {
		if a.Completed {
			st.TotalCompleted++
		}
	}
	return st
}

// EnrichScoreboard returns a copy of rows with ChallengesCompleted set to
// each user's count of successful completions.
func EnrichScoreboard(rows []ScoreRow, completions []Completion) []ScoreRow {
	counts := make(map[string]int)
	for _, c := range completions {
		if c.Completed && c.Outcome == OutcomeSuccess {
			counts[c.UserID]++
		}
	}
	out := make([]ScoreRow, len(rows))
	for i, row := range rows {
		row.ChallengesCompleted = counts[row.UserID]
		out[i] = row
	}
	return out
}
