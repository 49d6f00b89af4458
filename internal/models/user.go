package models

// UserProfile identifies the local account. The email is the partition key
// for every per-user store; identity is asserted by the client, never
// verified.
type UserProfile struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// StudyStats holds the aggregate Pomodoro totals for one user. Fields only
// ever grow, except LastStudyDate which moves forward.
type StudyStats struct {
	TotalMinutes      int   `json:"totalMinutes"`
	SessionsCompleted int   `json:"sessionsCompleted"`
	LastStudyDate     int64 `json:"lastStudyDate"`
}
