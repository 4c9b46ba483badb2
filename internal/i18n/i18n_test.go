package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "CorrectFeedback")
	if got != "✅ Correct! (+1 point)" {
		t.Errorf("T(CorrectFeedback) = %q", got)
	}

	got = T(ctx, "InvalidAnswer")
	if got != "⚠️ Please respond with only A, B, C, or D" {
		t.Errorf("T(InvalidAnswer) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "CorrectFeedback")
	if got != "✅ Верно! (+1 балл)" {
		t.Errorf("T(CorrectFeedback) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "QuestionHeader", map[string]any{
		"Difficulty": "Medium",
		"Asked":      2,
		"Total":      5,
	})
	if got != "(Medium) Question 2/5:" {
		t.Errorf("Td(QuestionHeader) = %q", got)
	}

	got = Td(ctx, "IncorrectFeedback", map[string]any{"Option": "C"})
	if got != "❌ Incorrect. The correct answer was C." {
		t.Errorf("Td(IncorrectFeedback) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}
