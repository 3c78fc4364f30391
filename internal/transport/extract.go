package transport

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// extractor pulls reply text out of one known response shape.
type extractor func(gjson.Result) (string, bool)

// extractors lists the accepted success shapes in priority order. The list
// mirrors what deployed backends have answered with over time; it has not
// been checked against a published contract.
var extractors []extractor

func init() {
	extractors = []extractor{
		nestedData,
		stringField("response"),
		stringField("answer"),
		stringField("content"),
		stringField("text"),
		stringField("result"),
		specificMessage,
		stringField("choices.0.message.content"),
		firstCandidatePart,
	}
}

// isGenericMessage reports status phrases that some backends put in
// "message" next to the real payload; they are never a reply.
func isGenericMessage(text string) bool {
	switch strings.ToLower(strings.TrimRight(text, ".!")) {
	case "success", "ok", "query processed successfully", "processed successfully",
		"request successful", "request processed":
		return true
	}
	return false
}

var boldMarkers = regexp.MustCompile(`\*\*(.*?)\*\*`)

// NormalizeText strips Markdown bold markers and surrounding whitespace.
func NormalizeText(s string) string {
	return strings.TrimSpace(boldMarkers.ReplaceAllString(s, "$1"))
}

// ExtractResponseText returns the normalised reply held in a success body.
func ExtractResponseText(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	return extract(gjson.ParseBytes(body))
}

func extract(root gjson.Result) (string, bool) {
	if !root.IsObject() {
		return "", false
	}
	for _, fn := range extractors {
		if text, ok := fn(root); ok {
			return text, true
		}
	}
	return "", false
}

func nonEmpty(v gjson.Result) (string, bool) {
	if v.Type != gjson.String {
		return "", false
	}
	text := NormalizeText(v.String())
	return text, text != ""
}

func stringField(path string) extractor {
	return func(root gjson.Result) (string, bool) {
		return nonEmpty(root.Get(path))
	}
}

func nestedData(root gjson.Result) (string, bool) {
	data := root.Get("data")
	if data.IsObject() {
		return extract(data)
	}
	return nonEmpty(data)
}

func specificMessage(root gjson.Result) (string, bool) {
	text, ok := nonEmpty(root.Get("message"))
	if !ok {
		return "", false
	}
	if isGenericMessage(text) {
		return "", false
	}
	return text, true
}

func firstCandidatePart(root gjson.Result) (string, bool) {
	for _, part := range root.Get("candidates.0.content.parts").Array() {
		if text, ok := nonEmpty(part.Get("text")); ok {
			return text, true
		}
	}
	return "", false
}

// errorMessage picks the most descriptive message out of a failure body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return fallbackErrorMessage
	}
	root := gjson.ParseBytes(body)
	for _, path := range []string{"message", "error", "error.message", "detail"} {
		v := root.Get(path)
		if v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return fallbackErrorMessage
}
