package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Credentials and token issuance live in the
// external identity service; we keep only what the exam engine needs.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	Role        UserRole
	Active      bool
	CreatedAt   time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Difficulty represents question difficulty level.
type Difficulty int

const (
	DifficultyEasy   Difficulty = 1
	DifficultyMedium Difficulty = 2
	DifficultyHard   Difficulty = 3
)

// Valid reports whether d is one of the three defined levels.
func (d Difficulty) Valid() bool {
	return d >= DifficultyEasy && d <= DifficultyHard
}

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "Easy"
	case DifficultyHard:
		return "Hard"
	default:
		return "Medium"
	}
}

// Exam represents one exam; immutable after creation.
type Exam struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DurationMin int    `json:"duration_min,omitempty"`
}

// Question represents an exam question with four options.
// CorrectOption is 1-based and must not leave the server before the
// question has been answered.
type Question struct {
	ID            int64      `json:"id"`
	ExamID        int64      `json:"exam_id"`
	Text          string     `json:"text"`
	Option1       string     `json:"option1"`
	Option2       string     `json:"option2"`
	Option3       string     `json:"option3"`
	Option4       string     `json:"option4"`
	CorrectOption int        `json:"correct_option"`
	Difficulty    Difficulty `json:"difficulty"`
	Topic         string     `json:"topic,omitempty"`
}

// Public returns the question fields safe to show to an examinee.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Option1:    q.Option1,
		Option2:    q.Option2,
		Option3:    q.Option3,
		Option4:    q.Option4,
		Difficulty: q.Difficulty,
	}
}

// PublicQuestion is a question as presented to an examinee: no answer key.
type PublicQuestion struct {
	ID         int64      `json:"id"`
	Text       string     `json:"text"`
	Option1    string     `json:"option1"`
	Option2    string     `json:"option2"`
	Option3    string     `json:"option3"`
	Option4    string     `json:"option4"`
	Difficulty Difficulty `json:"difficulty"`
}

// ExamSession tracks one user's attempt at one exam. At most one session
// exists per (user, exam) pair; it is created lazily on the first question
// request and finalized in place, never deleted by the engine.
type ExamSession struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
	ExamID int64 `json:"exam_id"`

	// AskedQuestionIDs is the presentation-ordered list of question ids
	// already shown. Append-only; a given id appears at most once.
	AskedQuestionIDs []int64 `json:"asked_question_ids"`

	CurrentQuestion   int        `json:"current_question"` // legacy progress counter
	Score             int        `json:"score"`
	CurrentDifficulty Difficulty `json:"current_difficulty"`
	CorrectStreak     int        `json:"correct_streak"`
	IncorrectStreak   int        `json:"incorrect_streak"`

	// Adaptive is always true today; reserved for a fixed-order mode.
	Adaptive bool `json:"adaptive"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Asked reports whether the question id has already been presented.
func (s *ExamSession) Asked(questionID int64) bool {
	for _, id := range s.AskedQuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// MarkAsked appends the question id to the asked list, preserving the
// no-duplicate invariant, and bumps the progress counter.
func (s *ExamSession) MarkAsked(questionID int64) {
	if s.Asked(questionID) {
		return
	}
	s.AskedQuestionIDs = append(s.AskedQuestionIDs, questionID)
	s.CurrentQuestion = len(s.AskedQuestionIDs)
}

// ExamImport is used for loading an exam with its questions from JSON.
type ExamImport struct {
	Name        string           `json:"name"`
	DurationMin int              `json:"duration_min"`
	Questions   []QuestionImport `json:"questions"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Text          string     `json:"text"`
	Option1       string     `json:"option1"`
	Option2       string     `json:"option2"`
	Option3       string     `json:"option3"`
	Option4       string     `json:"option4"`
	CorrectOption int        `json:"correct_option"`
	Difficulty    Difficulty `json:"difficulty"`
	Topic         string     `json:"topic"`
}
