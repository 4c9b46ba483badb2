package store

import (
	"database/sql"
	"testing"

	"github.com/nonzoo/cbt-ai/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestExam(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateExam(model.Exam{Name: name, DurationMin: 30})
	if err != nil {
		t.Fatalf("insertTestExam: %v", err)
	}
	return id
}

func insertTestQuestion(t *testing.T, s *Store, examID int64, text string, difficulty model.Difficulty) int64 {
	t.Helper()
	id, err := s.InsertQuestion(model.Question{
		ExamID:        examID,
		Text:          text,
		Option1:       "opt 1",
		Option2:       "opt 2",
		Option3:       "opt 3",
		Option4:       "opt 4",
		CorrectOption: 2,
		Difficulty:    difficulty,
		Topic:         "general",
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func insertTestUser(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username:    username,
		DisplayName: "Test " + username,
		Role:        model.UserRoleStudent,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("insertTestUser: %v", err)
	}
	return id
}

func TestExamCRUD(t *testing.T) {
	s := newTestStore(t)

	exams, err := s.ListExams()
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 0 {
		t.Fatalf("expected empty list, got %d", len(exams))
	}

	id := insertTestExam(t, s, "Go Basics")
	e, err := s.GetExam(id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if e.Name != "Go Basics" {
		t.Errorf("expected name 'Go Basics', got %q", e.Name)
	}
	if e.DurationMin != 30 {
		t.Errorf("expected duration 30, got %d", e.DurationMin)
	}

	_, err = s.GetExam(9999)
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}

	byName, err := s.GetExamByName("Go Basics")
	if err != nil {
		t.Fatalf("GetExamByName: %v", err)
	}
	if byName == nil || byName.ID != id {
		t.Errorf("expected exam %d by name, got %+v", id, byName)
	}
	missing, err := s.GetExamByName("nope")
	if err != nil {
		t.Fatalf("GetExamByName missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown name, got %+v", missing)
	}

	insertTestExam(t, s, "Networking")
	exams, err = s.ListExams()
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 2 {
		t.Fatalf("expected 2 exams, got %d", len(exams))
	}
}

func TestQuestionScoping(t *testing.T) {
	s := newTestStore(t)
	exam1 := insertTestExam(t, s, "Exam 1")
	exam2 := insertTestExam(t, s, "Exam 2")

	q1 := insertTestQuestion(t, s, exam1, "Q1", model.DifficultyEasy)
	insertTestQuestion(t, s, exam1, "Q2", model.DifficultyMedium)
	insertTestQuestion(t, s, exam2, "Q3", model.DifficultyHard)

	count, err := s.QuestionCount(exam1)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 questions in exam 1, got %d", count)
	}

	q, err := s.GetExamQuestion(exam1, q1)
	if err != nil {
		t.Fatalf("GetExamQuestion: %v", err)
	}
	if q.Text != "Q1" || q.Difficulty != model.DifficultyEasy {
		t.Errorf("unexpected question: %+v", q)
	}

	// Question from another exam must not resolve.
	_, err = s.GetExamQuestion(exam2, q1)
	if err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows for cross-exam lookup, got %v", err)
	}

	list, err := s.ListQuestions(exam1)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(list))
	}
}

func TestGetOrCreateSession(t *testing.T) {
	s := newTestStore(t)
	examID := insertTestExam(t, s, "Exam")
	userID := insertTestUser(t, s, "alice")

	// No session yet.
	sess, err := s.GetSession(userID, examID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session, got %+v", sess)
	}

	sess, err = s.GetOrCreateSession(userID, examID)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if sess.CurrentDifficulty != model.DifficultyMedium {
		t.Errorf("expected default difficulty Medium, got %v", sess.CurrentDifficulty)
	}
	if !sess.Adaptive {
		t.Error("expected adaptive default true")
	}
	if len(sess.AskedQuestionIDs) != 0 {
		t.Errorf("expected empty asked list, got %v", sess.AskedQuestionIDs)
	}
	if sess.Score != 0 || sess.CorrectStreak != 0 || sess.IncorrectStreak != 0 {
		t.Errorf("expected zeroed counters, got %+v", sess)
	}

	// Second call returns the same row.
	again, err := s.GetOrCreateSession(userID, examID)
	if err != nil {
		t.Fatalf("GetOrCreateSession again: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("expected same session %d, got %d", sess.ID, again.ID)
	}
}

func TestUpdateSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	examID := insertTestExam(t, s, "Exam")
	userID := insertTestUser(t, s, "alice")

	sess, err := s.GetOrCreateSession(userID, examID)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}

	sess.MarkAsked(11)
	sess.MarkAsked(7)
	sess.MarkAsked(11) // duplicate, must be ignored
	sess.Score = 1
	sess.CorrectStreak = 1
	sess.CurrentDifficulty = model.DifficultyHard
	if err := s.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := s.GetSession(userID, examID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.AskedQuestionIDs) != 2 || got.AskedQuestionIDs[0] != 11 || got.AskedQuestionIDs[1] != 7 {
		t.Errorf("asked ids not preserved in order: %v", got.AskedQuestionIDs)
	}
	if got.CurrentQuestion != 2 {
		t.Errorf("expected progress 2, got %d", got.CurrentQuestion)
	}
	if got.Score != 1 || got.CorrectStreak != 1 || got.CurrentDifficulty != model.DifficultyHard {
		t.Errorf("session fields not preserved: %+v", got)
	}
}

func TestSaveResultIdempotent(t *testing.T) {
	s := newTestStore(t)
	examID := insertTestExam(t, s, "Exam")
	userID := insertTestUser(t, s, "alice")

	if err := s.SaveResult(userID, examID, 4, 5); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	first, err := s.GetSession(userID, examID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if first.Score != 4 || first.CurrentQuestion != 5 {
		t.Errorf("expected score 4 progress 5, got %+v", first)
	}
	if first.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}

	// Repeating the call leaves the stored state unchanged.
	if err := s.SaveResult(userID, examID, 4, 5); err != nil {
		t.Fatalf("SaveResult repeat: %v", err)
	}
	second, err := s.GetSession(userID, examID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if second.Score != 4 || second.CurrentQuestion != 5 {
		t.Errorf("expected unchanged score/progress, got %+v", second)
	}
	if !second.FinishedAt.Equal(*first.FinishedAt) {
		t.Errorf("finished_at changed on repeat: %v vs %v", second.FinishedAt, first.FinishedAt)
	}
}

func TestSaveResultUpdatesExistingSession(t *testing.T) {
	s := newTestStore(t)
	examID := insertTestExam(t, s, "Exam")
	userID := insertTestUser(t, s, "alice")

	sess, err := s.GetOrCreateSession(userID, examID)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	sess.MarkAsked(1)
	sess.Score = 1
	if err := s.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if err := s.SaveResult(userID, examID, 3, 3); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err := s.GetSession(userID, examID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("expected upsert into session %d, got %d", sess.ID, got.ID)
	}
	if got.Score != 3 || got.CurrentQuestion != 3 {
		t.Errorf("expected score 3 progress 3, got %+v", got)
	}
	// Asked history survives finalization.
	if len(got.AskedQuestionIDs) != 1 {
		t.Errorf("expected asked history preserved, got %v", got.AskedQuestionIDs)
	}
}

func TestListFinishedSessions(t *testing.T) {
	s := newTestStore(t)
	examID := insertTestExam(t, s, "Exam")
	alice := insertTestUser(t, s, "alice")
	bob := insertTestUser(t, s, "bob")

	// Alice finished, Bob did not.
	if err := s.SaveResult(alice, examID, 2, 3); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if _, err := s.GetOrCreateSession(bob, examID); err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}

	sessions, err := s.ListFinishedSessions(examID)
	if err != nil {
		t.Fatalf("ListFinishedSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 finished session, got %d", len(sessions))
	}
	if sessions[0].UserID != alice {
		t.Errorf("expected alice's session, got user %d", sessions[0].UserID)
	}
}

func TestExportExamResults(t *testing.T) {
	s := newTestStore(t)
	examID := insertTestExam(t, s, "Final")
	alice := insertTestUser(t, s, "alice")

	if err := s.SaveResult(alice, examID, 4, 5); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	export, err := s.ExportExamResults(examID)
	if err != nil {
		t.Fatalf("ExportExamResults: %v", err)
	}
	if export.ExamName != "Final" {
		t.Errorf("expected exam name 'Final', got %q", export.ExamName)
	}
	if len(export.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(export.Results))
	}
	r := export.Results[0]
	if r.Username != "alice" || r.Score != 4 || r.TotalQuestions != 5 {
		t.Errorf("unexpected result: %+v", r)
	}
	if r.Percentage != 80 {
		t.Errorf("expected 80%%, got %f", r.Percentage)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id := insertTestUser(t, s, "alice")
	u, err := s.GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleStudent {
		t.Errorf("unexpected user: %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown user, got %+v", missing)
	}

	byID, err := s.GetUserByID(id)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID == nil || byID.Username != "alice" {
		t.Errorf("unexpected user by id: %+v", byID)
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("/some/exams.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/exams.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, err = s.GetImportedFileHash("/some/exams.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/exams.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/exams.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}
