package model

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Coins    int    `json:"coins"`
	Kills    int    `json:"kills"`
}

type UserRank struct {
	Username   string `json:"username"`
	Coins      int    `json:"coins"`
	Rank       int    `json:"rank"`
	TotalUsers int    `json:"total_users"`
}
