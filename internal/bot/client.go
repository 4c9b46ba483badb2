package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nonzoo/cbt-ai/internal/model"
)

// Client is the bot's HTTP client for the exam API. All calls carry a bounded
// timeout; a timeout surfaces as an error and never mutates conversation state,
// so retrying the turn is safe.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client. baseURL is the API root, e.g.
// "http://localhost:8080/api"; token is the caller's bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// NextQuestionResponse mirrors the next-question wire payload.
type NextQuestionResponse struct {
	Done              bool                  `json:"done"`
	Message           string                `json:"message"`
	Question          *model.PublicQuestion `json:"question"`
	AskedCount        int                   `json:"asked_count"`
	TotalQuestions    int                   `json:"total_questions"`
	CurrentDifficulty model.Difficulty      `json:"current_difficulty"`
}

// CheckAnswerResponse mirrors the check-answer wire payload.
type CheckAnswerResponse struct {
	IsCorrect         bool             `json:"is_correct"`
	CorrectAnswer     int              `json:"correct_answer"`
	Score             int              `json:"score"`
	AskedCount        int              `json:"asked_count"`
	TotalQuestions    int              `json:"total_questions"`
	CurrentDifficulty model.Difficulty `json:"current_difficulty"`
	Done              bool             `json:"done"`
}

// NextQuestion fetches the next question for the exam.
func (c *Client) NextQuestion(ctx context.Context, examID int64) (NextQuestionResponse, error) {
	var resp NextQuestionResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/adaptive/next/%d", examID), nil, &resp)
	return resp, err
}

// CheckAnswer submits an answer (1..4) for grading.
func (c *Client) CheckAnswer(ctx context.Context, examID, questionID int64, answer int) (CheckAnswerResponse, error) {
	body := map[string]any{
		"exam_id":     examID,
		"question_id": questionID,
		"answer":      answer,
	}
	var resp CheckAnswerResponse
	err := c.do(ctx, http.MethodPost, "/adaptive/check_answer", body, &resp)
	return resp, err
}

// SaveResult finalizes the exam with the given score.
func (c *Client) SaveResult(ctx context.Context, examID int64, score, totalQuestions int) error {
	body := map[string]any{
		"score":           score,
		"total_questions": totalQuestions,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/save_result/%d", examID), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
