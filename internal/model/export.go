package model

import "time"

// ExamResultsExport is the top-level JSON structure for exam result export.
type ExamResultsExport struct {
	ExamID     int64           `json:"exam_id"`
	ExamName   string          `json:"exam_name"`
	ExportedAt time.Time       `json:"exported_at"`
	Results    []SessionResult `json:"results"`
}

// SessionResult holds one user's finished exam session for export.
type SessionResult struct {
	Username        string     `json:"username"`
	DisplayName     string     `json:"display_name"`
	Score           int        `json:"score"`
	TotalQuestions  int        `json:"total_questions"`
	Percentage      float64    `json:"percentage"`
	FinalDifficulty Difficulty `json:"final_difficulty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
