package store

import (
	"fmt"
	"time"

	"github.com/nonzoo/cbt-ai/internal/model"
)

// ExportExamResults builds export-ready results for all finished sessions of
// an exam. The progress counter is the total the session was finalized with.
func (s *Store) ExportExamResults(examID int64) (model.ExamResultsExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return model.ExamResultsExport{}, fmt.Errorf("get exam %d: %w", examID, err)
	}

	sessions, err := s.ListFinishedSessions(examID)
	if err != nil {
		return model.ExamResultsExport{}, fmt.Errorf("list sessions: %w", err)
	}

	export := model.ExamResultsExport{
		ExamID:     exam.ID,
		ExamName:   exam.Name,
		ExportedAt: time.Now(),
	}
	for _, sess := range sessions {
		user, err := s.GetUserByID(sess.UserID)
		if err != nil {
			return model.ExamResultsExport{}, fmt.Errorf("get user %d: %w", sess.UserID, err)
		}

		var username, displayName string
		if user != nil {
			username = user.Username
			displayName = user.DisplayName
		}

		var pct float64
		if sess.CurrentQuestion > 0 {
			pct = float64(sess.Score) / float64(sess.CurrentQuestion) * 100
		}

		export.Results = append(export.Results, model.SessionResult{
			Username:        username,
			DisplayName:     displayName,
			Score:           sess.Score,
			TotalQuestions:  sess.CurrentQuestion,
			Percentage:      pct,
			FinalDifficulty: sess.CurrentDifficulty,
			StartedAt:       sess.StartedAt,
			FinishedAt:      sess.FinishedAt,
		})
	}
	return export, nil
}
