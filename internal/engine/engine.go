// Package engine implements the adaptive exam core: question selection,
// answer evaluation and result finalization over the session store.
package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/nonzoo/cbt-ai/internal/model"
	"github.com/nonzoo/cbt-ai/internal/store"
)

var (
	// ErrExamNotFound is returned when the referenced exam does not exist.
	ErrExamNotFound = errors.New("exam not found")
	// ErrQuestionNotFound is returned when the question does not exist or
	// does not belong to the referenced exam.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidAnswer is returned for a submitted option outside 1..4.
	ErrInvalidAnswer = errors.New("answer must be between 1 and 4")
)

// NextQuestion is the result of a selection call. When Done is true the exam
// is exhausted and Question is nil; otherwise Question carries the public
// fields of the chosen question.
type NextQuestion struct {
	Done              bool
	Message           string
	Question          *model.PublicQuestion
	AskedCount        int
	TotalQuestions    int
	CurrentDifficulty model.Difficulty
}

// Evaluation is the result of grading one submitted answer.
type Evaluation struct {
	IsCorrect         bool
	CorrectAnswer     int
	Score             int
	AskedCount        int
	TotalQuestions    int
	CurrentDifficulty model.Difficulty
	Done              bool
}

// Engine drives adaptive sessions against the store. All session mutations
// for one (user, exam) key are serialized through a per-key mutex, so a user
// double-submitting an answer cannot lose a streak or score update.
type Engine struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(s *store.Store) *Engine {
	return &Engine{store: s, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) sessionLock(userID, examID int64) *sync.Mutex {
	key := fmt.Sprintf("%d/%d", userID, examID)
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// nextDifficulty moves one level up on a correct answer and one level down on
// an incorrect one, clamped to [Easy, Hard]. Streak length is tracked on the
// session but deliberately not consulted here.
func nextDifficulty(current model.Difficulty, gotItRight bool) model.Difficulty {
	if gotItRight {
		return min(model.DifficultyHard, current+1)
	}
	return max(model.DifficultyEasy, current-1)
}

// SelectNext picks the next unseen question for the user's session on the
// exam, preferring questions at the session's current difficulty and falling
// back to any unseen question. The chosen id is appended to the session's
// asked list before returning.
func (e *Engine) SelectNext(userID, examID int64) (NextQuestion, error) {
	if _, err := e.store.GetExam(examID); err == sql.ErrNoRows {
		return NextQuestion{}, ErrExamNotFound
	} else if err != nil {
		return NextQuestion{}, fmt.Errorf("get exam: %w", err)
	}

	lock := e.sessionLock(userID, examID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.store.GetOrCreateSession(userID, examID)
	if err != nil {
		return NextQuestion{}, fmt.Errorf("get or create session: %w", err)
	}

	total, err := e.store.QuestionCount(examID)
	if err != nil {
		return NextQuestion{}, fmt.Errorf("count questions: %w", err)
	}

	if len(sess.AskedQuestionIDs) >= total {
		return NextQuestion{
			Done:              true,
			Message:           "Exam complete.",
			AskedCount:        len(sess.AskedQuestionIDs),
			TotalQuestions:    total,
			CurrentDifficulty: sess.CurrentDifficulty,
		}, nil
	}

	questions, err := e.store.ListQuestions(examID)
	if err != nil {
		return NextQuestion{}, fmt.Errorf("list questions: %w", err)
	}

	var candidates, preferred []model.Question
	for _, q := range questions {
		if sess.Asked(q.ID) {
			continue
		}
		candidates = append(candidates, q)
		if q.Difficulty == sess.CurrentDifficulty {
			preferred = append(preferred, q)
		}
	}

	pool := preferred
	if len(pool) == 0 {
		pool = candidates
	}
	// Unreachable once the exhaustion check above passed.
	if len(pool) == 0 {
		return NextQuestion{
			Done:              true,
			Message:           "No more questions.",
			AskedCount:        len(sess.AskedQuestionIDs),
			TotalQuestions:    total,
			CurrentDifficulty: sess.CurrentDifficulty,
		}, nil
	}

	question := pool[rand.Intn(len(pool))]
	sess.MarkAsked(question.ID)
	if err := e.store.UpdateSession(sess); err != nil {
		return NextQuestion{}, fmt.Errorf("update session: %w", err)
	}

	slog.Debug("selected question",
		"user_id", userID,
		"exam_id", examID,
		"question_id", question.ID,
		"difficulty", question.Difficulty,
		"asked", sess.CurrentQuestion,
		"total", total,
	)

	public := question.Public()
	return NextQuestion{
		Question:          &public,
		AskedCount:        sess.CurrentQuestion,
		TotalQuestions:    total,
		CurrentDifficulty: sess.CurrentDifficulty,
	}, nil
}

// Evaluate grades a submitted answer for a question of the exam and updates
// the session's score, streaks and difficulty. The asked list is not touched
// here; only selection appends to it.
func (e *Engine) Evaluate(userID, examID, questionID int64, answer int) (Evaluation, error) {
	if answer < 1 || answer > 4 {
		return Evaluation{}, ErrInvalidAnswer
	}

	if _, err := e.store.GetExam(examID); err == sql.ErrNoRows {
		return Evaluation{}, ErrExamNotFound
	} else if err != nil {
		return Evaluation{}, fmt.Errorf("get exam: %w", err)
	}

	question, err := e.store.GetExamQuestion(examID, questionID)
	if err == sql.ErrNoRows {
		return Evaluation{}, ErrQuestionNotFound
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("get question: %w", err)
	}

	lock := e.sessionLock(userID, examID)
	lock.Lock()
	defer lock.Unlock()

	// Selection normally created the session already.
	sess, err := e.store.GetOrCreateSession(userID, examID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("get or create session: %w", err)
	}

	total, err := e.store.QuestionCount(examID)
	if err != nil {
		return Evaluation{}, fmt.Errorf("count questions: %w", err)
	}

	isCorrect := answer == question.CorrectOption
	if isCorrect {
		sess.Score++
		sess.CorrectStreak++
		sess.IncorrectStreak = 0
	} else {
		sess.IncorrectStreak++
		sess.CorrectStreak = 0
	}
	sess.CurrentDifficulty = nextDifficulty(sess.CurrentDifficulty, isCorrect)

	if err := e.store.UpdateSession(sess); err != nil {
		return Evaluation{}, fmt.Errorf("update session: %w", err)
	}

	slog.Debug("evaluated answer",
		"user_id", userID,
		"exam_id", examID,
		"question_id", questionID,
		"correct", isCorrect,
		"score", sess.Score,
		"difficulty", sess.CurrentDifficulty,
	)

	return Evaluation{
		IsCorrect:         isCorrect,
		CorrectAnswer:     question.CorrectOption,
		Score:             sess.Score,
		AskedCount:        len(sess.AskedQuestionIDs),
		TotalQuestions:    total,
		CurrentDifficulty: sess.CurrentDifficulty,
		Done:              len(sess.AskedQuestionIDs) >= total,
	}, nil
}

// Finalize durably records the terminal score for the user's session on the
// exam and marks completion by count. Safe to call more than once.
func (e *Engine) Finalize(userID, examID int64, score, totalQuestions int) error {
	if _, err := e.store.GetExam(examID); err == sql.ErrNoRows {
		return ErrExamNotFound
	} else if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	lock := e.sessionLock(userID, examID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.SaveResult(userID, examID, score, totalQuestions); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	slog.Info("saved exam result", "user_id", userID, "exam_id", examID, "score", score, "total", totalQuestions)
	return nil
}
