package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nonzoo/cbt-ai/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		duration_min INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		option1 TEXT NOT NULL,
		option2 TEXT NOT NULL,
		option3 TEXT NOT NULL,
		option4 TEXT NOT NULL,
		correct_option INTEGER NOT NULL,
		difficulty INTEGER NOT NULL DEFAULT 2,
		topic TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		exam_id INTEGER NOT NULL,
		asked_question_ids TEXT NOT NULL DEFAULT '[]',
		current_question INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		current_difficulty INTEGER NOT NULL DEFAULT 2,
		correct_streak INTEGER NOT NULL DEFAULT 0,
		incorrect_streak INTEGER NOT NULL DEFAULT 0,
		adaptive BOOLEAN NOT NULL DEFAULT 1,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		UNIQUE (user_id, exam_id),
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores a new exam.
func (s *Store) CreateExam(e model.Exam) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO exams (name, duration_min) VALUES (?, ?)`,
		e.Name, e.DurationMin,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, name, duration_min FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.DurationMin)
	return e, err
}

// GetExamByName returns an exam by its unique name, or nil if absent.
func (s *Store) GetExamByName(name string) (*model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, name, duration_min FROM exams WHERE name = ?`, name,
	).Scan(&e.ID, &e.Name, &e.DurationMin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExams returns all exams ordered by ID.
func (s *Store) ListExams() ([]model.Exam, error) {
	rows, err := s.db.Query(`SELECT id, name, duration_min FROM exams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Name, &e.DurationMin); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO questions (exam_id, text, option1, option2, option3, option4, correct_option, difficulty, topic)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ExamID, q.Text, q.Option1, q.Option2, q.Option3, q.Option4, q.CorrectOption, q.Difficulty, q.Topic,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const questionCols = `id, exam_id, text, option1, option2, option3, option4, correct_option, difficulty, topic`

func scanQuestion(row interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	err := row.Scan(&q.ID, &q.ExamID, &q.Text, &q.Option1, &q.Option2, &q.Option3, &q.Option4,
		&q.CorrectOption, &q.Difficulty, &q.Topic)
	return q, err
}

// GetExamQuestion returns a question by ID scoped to an exam.
// Returns sql.ErrNoRows when the question does not belong to that exam.
func (s *Store) GetExamQuestion(examID, questionID int64) (model.Question, error) {
	row := s.db.QueryRow(
		`SELECT `+questionCols+` FROM questions WHERE id = ? AND exam_id = ?`,
		questionID, examID,
	)
	return scanQuestion(row)
}

// ListQuestions returns all questions of an exam ordered by ID.
func (s *Store) ListQuestions(examID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT `+questionCols+` FROM questions WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions belonging to an exam.
func (s *Store) QuestionCount(examID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE exam_id = ?`, examID).Scan(&count)
	return count, err
}

const sessionCols = `id, user_id, exam_id, asked_question_ids, current_question, score,
	current_difficulty, correct_streak, incorrect_streak, adaptive, started_at, finished_at`

func scanSession(row interface{ Scan(...any) error }) (*model.ExamSession, error) {
	var sess model.ExamSession
	var asked string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ExamID, &asked, &sess.CurrentQuestion,
		&sess.Score, &sess.CurrentDifficulty, &sess.CorrectStreak, &sess.IncorrectStreak,
		&sess.Adaptive, &sess.StartedAt, &sess.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(asked), &sess.AskedQuestionIDs); err != nil {
		return nil, fmt.Errorf("decode asked ids for session %d: %w", sess.ID, err)
	}
	return &sess, nil
}

// GetSession returns the session for a (user, exam) pair, or nil if none exists.
func (s *Store) GetSession(userID, examID int64) (*model.ExamSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionCols+` FROM exam_sessions WHERE user_id = ? AND exam_id = ?`,
		userID, examID,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// GetOrCreateSession returns the session for a (user, exam) pair, creating it
// with defaults (Medium difficulty, adaptive) as a single atomic step if it
// does not exist yet. The UNIQUE(user_id, exam_id) index makes concurrent
// creation safe: the loser of the race reads the winner's row.
func (s *Store) GetOrCreateSession(userID, examID int64) (*model.ExamSession, error) {
	_, err := s.db.Exec(
		`INSERT INTO exam_sessions (user_id, exam_id, current_difficulty, adaptive, started_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (user_id, exam_id) DO NOTHING`,
		userID, examID, model.DifficultyMedium, time.Now(),
	)
	if err != nil {
		return nil, err
	}
	return s.GetSession(userID, examID)
}

// UpdateSession persists the mutable session fields.
func (s *Store) UpdateSession(sess *model.ExamSession) error {
	asked, err := json.Marshal(sess.AskedQuestionIDs)
	if err != nil {
		return fmt.Errorf("encode asked ids: %w", err)
	}
	if sess.AskedQuestionIDs == nil {
		asked = []byte("[]")
	}
	_, err = s.db.Exec(
		`UPDATE exam_sessions
		 SET asked_question_ids = ?, current_question = ?, score = ?, current_difficulty = ?,
		     correct_streak = ?, incorrect_streak = ?, adaptive = ?, finished_at = ?
		 WHERE id = ?`,
		string(asked), sess.CurrentQuestion, sess.Score, sess.CurrentDifficulty,
		sess.CorrectStreak, sess.IncorrectStreak, sess.Adaptive, sess.FinishedAt, sess.ID,
	)
	return err
}

// SaveResult upserts the final score for a (user, exam) session and marks
// completion by progress count. Idempotent: repeating the call with the same
// arguments leaves the stored row unchanged (finished_at keeps its first value).
func (s *Store) SaveResult(userID, examID int64, score, totalQuestions int) error {
	_, err := s.db.Exec(
		`INSERT INTO exam_sessions (user_id, exam_id, score, current_question, current_difficulty, adaptive, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (user_id, exam_id) DO UPDATE SET
		   score = excluded.score,
		   current_question = excluded.current_question,
		   finished_at = COALESCE(exam_sessions.finished_at, excluded.finished_at)`,
		userID, examID, score, totalQuestions, model.DifficultyMedium, time.Now(), time.Now(),
	)
	return err
}

// ListFinishedSessions returns all finished sessions for an exam, oldest first.
func (s *Store) ListFinishedSessions(examID int64) ([]*model.ExamSession, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionCols+` FROM exam_sessions
		 WHERE exam_id = ? AND finished_at IS NOT NULL ORDER BY finished_at, id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []*model.ExamSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
