package evaluate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/edulab/autochecker/internal/models"
)

const (
	maxCommentLength = 500

	defaultComment           = "Комментарий не предоставлен"
	defaultAuthorshipComment = "Анализ не выполнен"
)

var (
	resultJSONPattern     = regexp.MustCompile(`\{[^{}]*"result"[^{}]*\}`)
	authorshipJSONPattern = regexp.MustCompile(`\{[^{}]*"ai_detected"[^{}]*\}`)
)

// ExtractBinaryResult pulls the pass/fail verdict out of a model response.
// The fallback chain is: embedded JSON object, repaired JSON, Russian keyword
// matching, default to fail. Negative phrasings are checked before positive
// ones so that "не зачтено" never matches on its "зачтено" substring.
func ExtractBinaryResult(msg string) models.GradingVerdict {
	if raw := resultJSONPattern.FindString(msg); raw != "" {
		if verdict, ok := parseVerdictJSON(raw); ok {
			return verdict
		}
	}

	lower := strings.ToLower(msg)

	var result models.Verdict
	switch {
	case strings.Contains(lower, "не зачтено"),
		strings.Contains(lower, "незачет"),
		strings.Contains(lower, "не засчитано"):
		result = models.VerdictFail
	case strings.Contains(lower, "зачтено"),
		strings.Contains(lower, "зачет"),
		strings.Contains(lower, "засчитано"):
		result = models.VerdictPass
	default:
		result = models.VerdictFail
	}

	comment := msg
	if idx := strings.LastIndex(lower, "комментарий:"); idx >= 0 {
		comment = strings.TrimSpace(msg[idx+len("комментарий:"):])
	} else if idx := strings.LastIndex(lower, "comment:"); idx >= 0 {
		comment = strings.TrimSpace(msg[idx+len("comment:"):])
	}

	return models.GradingVerdict{Result: result, Comment: truncateComment(comment)}
}

func parseVerdictJSON(raw string) (models.GradingVerdict, bool) {
	var payload struct {
		Result  string `json:"result"`
		Comment string `json:"comment"`
	}

	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return models.GradingVerdict{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return models.GradingVerdict{}, false
		}
	}

	// The verdict is strictly binary: anything but the exact pass term maps
	// to fail, free-form verdict strings never reach the record.
	result := models.VerdictFail
	if strings.ToLower(strings.TrimSpace(payload.Result)) == string(models.VerdictPass) {
		result = models.VerdictPass
	}

	comment := payload.Comment
	if comment == "" {
		comment = defaultComment
	}

	return models.GradingVerdict{Result: result, Comment: truncateComment(comment)}, true
}

// parseAuthorship extracts the structured detector verdict from a model
// response, repairing malformed JSON when possible.
func parseAuthorship(msg string) (*models.AuthorshipCheck, bool) {
	raw := authorshipJSONPattern.FindString(msg)
	if raw == "" {
		return nil, false
	}

	var payload struct {
		Detected   bool     `json:"ai_detected"`
		Confidence string   `json:"confidence"`
		Reasons    []string `json:"reasons"`
		Comment    string   `json:"comment"`
	}

	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, false
		}
	}

	check := &models.AuthorshipCheck{
		Detected:   payload.Detected,
		Confidence: payload.Confidence,
		Reasons:    payload.Reasons,
		Comment:    payload.Comment,
	}
	if check.Confidence == "" {
		check.Confidence = models.ConfidenceLow
	}
	if check.Comment == "" {
		check.Comment = defaultAuthorshipComment
	}

	return check, true
}

func truncateComment(comment string) string {
	runes := []rune(comment)
	if len(runes) <= maxCommentLength {
		return comment
	}
	return string(runes[:maxCommentLength]) + "..."
}
