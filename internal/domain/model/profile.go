package model

import "time"

// ProfileSubmissionLimit caps the submissions embedded in a profile response.
const ProfileSubmissionLimit = 50

type Profile struct {
	Username    string       `json:"username"`
	Balance     int          `json:"balance"`
	TotalKills  int          `json:"totalKills"`
	Rank        int          `json:"rank"`
	Submissions []Submission `json:"submissions"`
	CreatedAt   time.Time    `json:"-"`
}
