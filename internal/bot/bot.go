// Package bot implements the conversational exam client: a turn-based driver
// that maps chat messages to exam API calls and renders questions and
// feedback as plain chat text.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/nonzoo/cbt-ai/internal/i18n"
	"github.com/nonzoo/cbt-ai/internal/model"
)

// slots is the per-conversation dialogue state. questionID == 0 means no
// question is pending. The mutex serializes turns within one conversation;
// turns of different conversations run independently.
type slots struct {
	mu             sync.Mutex
	questionID     int64
	askedCount     int
	totalQuestions int
	difficulty     model.Difficulty
	score          int
}

// Bot drives exam dialogues for many concurrent conversations.
type Bot struct {
	client *Client
	examID int64

	mu            sync.Mutex
	conversations map[string]*slots
}

func New(client *Client, examID int64) *Bot {
	return &Bot{
		client:        client,
		examID:        examID,
		conversations: make(map[string]*slots),
	}
}

var answerIndex = map[string]int{"A": 1, "B": 2, "C": 3, "D": 4}

// HandleMessage processes one user message and returns the bot's replies.
// The reply is computed synchronously; a failed engine call aborts the turn
// without touching the conversation slots, so the user can simply retry.
func (b *Bot) HandleMessage(ctx context.Context, sender, message string) []string {
	b.mu.Lock()
	sl, ok := b.conversations[sender]
	if !ok {
		sl = &slots{difficulty: model.DifficultyMedium}
		b.conversations[sender] = sl
	}
	b.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()

	text := strings.ToUpper(strings.TrimSpace(message))
	switch {
	case text == "HI" || text == "HELLO" || text == "HEY":
		return []string{i18n.T(ctx, "Greeting"), i18n.T(ctx, "GreetingPrompt")}
	case text == "START EXAM" || text == "START":
		return b.fetchQuestion(ctx, sl)
	case len(text) == 1 && answerIndex[text] != 0:
		return b.checkAnswer(ctx, sl, text)
	case sl.questionID != 0:
		// Mid-question reply that is not a valid letter: fail closed
		// without contacting the engine.
		return []string{i18n.T(ctx, "InvalidAnswer")}
	default:
		return []string{i18n.T(ctx, "Help")}
	}
}

// fetchQuestion asks the engine for the next question and renders it, or
// emits the completion message when the exam is exhausted.
func (b *Bot) fetchQuestion(ctx context.Context, sl *slots) []string {
	data, err := b.client.NextQuestion(ctx, b.examID)
	if err != nil {
		slog.Error("next question failed", "exam_id", b.examID, "error", err)
		return []string{i18n.T(ctx, "ConnError")}
	}

	if data.Done {
		msg := data.Message
		if msg == "" {
			msg = "Exam complete."
		}
		// Score is kept: the answer path owns final saving and summary.
		sl.questionID = 0
		sl.askedCount = 0
		sl.totalQuestions = data.TotalQuestions
		sl.difficulty = model.DifficultyMedium
		return []string{i18n.Td(ctx, "ExamDone", map[string]any{"Message": msg})}
	}

	q := data.Question
	var sb strings.Builder
	sb.WriteString(i18n.Td(ctx, "QuestionHeader", map[string]any{
		"Difficulty": data.CurrentDifficulty.String(),
		"Asked":      data.AskedCount,
		"Total":      data.TotalQuestions,
	}))
	sb.WriteString("\n")
	sb.WriteString(q.Text)
	sb.WriteString("\n\n")
	for i, opt := range []string{q.Option1, q.Option2, q.Option3, q.Option4} {
		fmt.Fprintf(&sb, "%c. %s\n", 'A'+i, opt)
	}

	sl.questionID = q.ID
	sl.askedCount = data.AskedCount
	sl.totalQuestions = data.TotalQuestions
	sl.difficulty = data.CurrentDifficulty
	return []string{strings.TrimRight(sb.String(), "\n")}
}

// checkAnswer grades the pending question, accumulates the local running
// score, and either chains the next fetch or finalizes the exam.
func (b *Bot) checkAnswer(ctx context.Context, sl *slots, letter string) []string {
	if sl.questionID == 0 {
		return []string{i18n.T(ctx, "NoCurrentQuestion")}
	}

	result, err := b.client.CheckAnswer(ctx, b.examID, sl.questionID, answerIndex[letter])
	if err != nil {
		slog.Error("check answer failed", "exam_id", b.examID, "question_id", sl.questionID, "error", err)
		return []string{i18n.T(ctx, "ConnError")}
	}

	// The running score is accumulated locally from the correctness flag
	// rather than read from the server's score field. See DESIGN.md.
	newScore := sl.score
	if result.IsCorrect {
		newScore++
	}

	var feedback string
	if result.IsCorrect {
		feedback = i18n.T(ctx, "CorrectFeedback")
	} else {
		correct := string(rune('A' + result.CorrectAnswer - 1))
		feedback = i18n.Td(ctx, "IncorrectFeedback", map[string]any{"Option": correct}) +
			"\n" + i18n.T(ctx, fmt.Sprintf("Encouragement%d", rand.Intn(4)+1))
	}
	feedback += "\n" + i18n.Td(ctx, "ScoreLine", map[string]any{
		"Score":      newScore,
		"Difficulty": int(result.CurrentDifficulty),
	})
	messages := []string{feedback}

	if result.Done {
		messages = append(messages, b.finishExam(ctx, sl, newScore, result.TotalQuestions)...)
		return messages
	}

	sl.score = newScore
	sl.questionID = 0
	sl.difficulty = result.CurrentDifficulty
	sl.askedCount = result.AskedCount
	sl.totalQuestions = result.TotalQuestions
	return append(messages, b.fetchQuestion(ctx, sl)...)
}

// finishExam saves the final score and renders the summary, then resets the
// conversation for a fresh attempt.
func (b *Bot) finishExam(ctx context.Context, sl *slots, score, total int) []string {
	var messages []string
	if err := b.client.SaveResult(ctx, b.examID, score, total); err != nil {
		slog.Error("save result failed", "exam_id", b.examID, "error", err)
		messages = append(messages, i18n.T(ctx, "SaveError"))
	}

	var pct float64
	if total > 0 {
		pct = float64(score) / float64(total) * 100
	}
	summary := i18n.Td(ctx, "Summary", map[string]any{
		"Score":      score,
		"Total":      total,
		"Percentage": fmt.Sprintf("%.1f", pct),
	})
	switch {
	case pct >= 75:
		summary += " " + i18n.T(ctx, "BandExcellent")
	case pct >= 50:
		summary += " " + i18n.T(ctx, "BandGood")
	default:
		summary += " " + i18n.T(ctx, "BandPractice")
	}
	messages = append(messages, summary)

	sl.questionID = 0
	sl.askedCount = 0
	sl.totalQuestions = 0
	sl.difficulty = model.DifficultyMedium
	sl.score = 0
	return messages
}
