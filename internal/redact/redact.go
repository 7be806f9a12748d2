// Package redact masks sensitive substrings: PII in captured OCR text
// (two strictness levels, §4.3) and secrets in outbound error messages
// (§7, secret leakage prevention). Both are "mask sensitive substrings in
// text" and live together for the same reason the teacher keeps its tag
// neutralizer and its MCP-layer redaction close to their callers.
package redact

import "regexp"

// Level selects the PII redaction strictness.
type Level int

const (
	Basic Level = iota
	Strict
)

// ParseLevel converts the config string ("basic"/"strict") into a Level,
// defaulting to Basic for anything else.
func ParseLevel(s string) Level {
	if s == "strict" {
		return Strict
	}
	return Basic
}

var (
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	mobilePattern   = regexp.MustCompile(`\b(1[3-9]\d)(\d{4})(\d{4})\b`)
	nationalIDRegex = regexp.MustCompile(`\b(\d{6})(\d{8})(\d{4})\b`)
	cardPattern     = regexp.MustCompile(`\b(\d{4})(\d{8,11})(\d{4})\b`)

	ipv4Pattern    = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\b`)
	macPattern     = regexp.MustCompile(`\b[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}\b`)
	currencyRegex  = regexp.MustCompile(`[¥$€£]\s?\d[\d,]*(\.\d+)?|\d[\d,]*(\.\d+)?\s?(元|RMB|USD|CNY)`)
	longDigitRegex = regexp.MustCompile(`\d{7,}`)
)

// Text applies PII redaction at the given level and returns the masked
// text. Order matters: basic patterns always run first so their masked
// stubs aren't re-caught by the strict generic digit rule.
func Text(s string, level Level) string {
	s = emailPattern.ReplaceAllString(s, "[EMAIL_REDACTED]")
	s = mobilePattern.ReplaceAllString(s, "$1****$3")
	s = nationalIDRegex.ReplaceAllString(s, "$1****$3")
	s = cardPattern.ReplaceAllString(s, "$1****$3")

	if level == Strict {
		s = ipv4Pattern.ReplaceAllString(s, "[IP_REDACTED]")
		s = macPattern.ReplaceAllString(s, "[MAC_REDACTED]")
		s = currencyRegex.ReplaceAllString(s, "[MONEY_REDACTED]")
		s = longDigitRegex.ReplaceAllString(s, "[NUMBER_REDACTED]")
	}
	return s
}

var (
	bearerPattern   = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)
	apiKeyMsgRegex  = regexp.MustCompile(`(?i)Incorrect API key provided:\s*\S+`)
	skPrefixRegex   = regexp.MustCompile(`\bsk-[A-Za-z0-9]{10,}\b`)
	apiKeyFieldJSON = regexp.MustCompile(`(?i)"api[_-]?key"\s*:\s*"[^"]*"`)
)

// Secrets masks credentials and secret-shaped substrings out of an outbound
// error message before it is logged or surfaced to a caller: bearer tokens,
// OpenAI-style "Incorrect API key provided: ..." messages, sk-... keys, and
// JSON "api_key"/"apiKey" fields.
func Secrets(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = apiKeyMsgRegex.ReplaceAllString(s, "Incorrect API key provided: [REDACTED]")
	s = skPrefixRegex.ReplaceAllString(s, "[REDACTED]")
	s = apiKeyFieldJSON.ReplaceAllString(s, `"api_key":"[REDACTED]"`)
	return s
}
