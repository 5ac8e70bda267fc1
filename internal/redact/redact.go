// Package redact masks secrets in freeform text before persistence. Rules
// are ordered and independent; each is a pattern plus a fixed replacement
// token, applied globally across the whole string. Mask is total and
// idempotent, so rendered documents can be safely re-masked.
package redact

import "regexp"

type rule struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Rule order matters: assignment-style rules run before bare-token rules so
// the key name survives in the replacement.
var rules = []rule{
	{
		name:        "api-key-assignment",
		re:          regexp.MustCompile(`(?i)(api[_-]?key|apikey|api_token|access[_-]?token|auth[_-]?token|bearer)\s*[=:]\s*["']?([a-zA-Z0-9_-]{20,})["']?`),
		replacement: "${1}=***REDACTED***",
	},
	{
		name:        "openai-key",
		re:          regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9-]{20,})`),
		replacement: "***REDACTED_API_KEY***",
	},
	{
		name:        "github-token",
		re:          regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36,})`),
		replacement: "***REDACTED_GITHUB_TOKEN***",
	},
	{
		name:        "github-oauth",
		re:          regexp.MustCompile(`(?i)(gho_[a-zA-Z0-9]{36,})`),
		replacement: "***REDACTED_GITHUB_OAUTH***",
	},
	{
		name:        "password-assignment",
		re:          regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*["']?([^\s"']{8,})["']?`),
		replacement: "${1}=***REDACTED***",
	},
	{
		name:        "aws-access-key",
		re:          regexp.MustCompile(`(?i)(AKIA[A-Z0-9]{16})`),
		replacement: "***REDACTED_AWS_KEY***",
	},
	{
		name:        "aws-secret-assignment",
		re:          regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[=:]\s*["']?([a-zA-Z0-9/+=]{40})["']?`),
		replacement: "${1}=***REDACTED***",
	},
	{
		name:        "generic-key-assignment",
		re:          regexp.MustCompile(`(?i)(private[_-]?key|secret[_-]?key|encryption[_-]?key)\s*[=:]\s*["']?([^\s"']{16,})["']?`),
		replacement: "${1}=***REDACTED***",
	},
	{
		name:        "bearer-header",
		re:          regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)([a-zA-Z0-9._-]{20,})`),
		replacement: "${1}***REDACTED***",
	},
	{
		name:        "slack-webhook",
		re:          regexp.MustCompile(`(https://hooks\.slack\.com/services/[A-Za-z0-9/]+)`),
		replacement: "***REDACTED_SLACK_WEBHOOK***",
	},
	{
		name:        "discord-webhook",
		re:          regexp.MustCompile(`(https://discord(?:app)?\.com/api/webhooks/[0-9]+/[A-Za-z0-9_-]+)`),
		replacement: "***REDACTED_DISCORD_WEBHOOK***",
	},
	{
		name:        "jwt",
		re:          regexp.MustCompile(`(eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*)`),
		replacement: "***REDACTED_JWT***",
	},
	{
		name:        "supabase-key",
		re:          regexp.MustCompile(`(?i)(sbp_[a-zA-Z0-9]{20,})`),
		replacement: "***REDACTED_SUPABASE_KEY***",
	},
	{
		name:        "service-role-key",
		re:          regexp.MustCompile(`(?i)(service_role[_-]?key)\s*[=:]\s*["']?([a-zA-Z0-9._-]{30,})["']?`),
		replacement: "${1}=***REDACTED***",
	},
	{
		name:        "google-api-key",
		re:          regexp.MustCompile(`(AIza[A-Za-z0-9_-]{35})`),
		replacement: "***REDACTED_GOOGLE_API_KEY***",
	},
	{
		name:        "stripe-secret",
		re:          regexp.MustCompile(`(?i)(sk_live_[a-zA-Z0-9]{24,})`),
		replacement: "***REDACTED_STRIPE_SECRET***",
	},
	{
		name:        "stripe-publishable",
		re:          regexp.MustCompile(`(?i)(pk_live_[a-zA-Z0-9]{24,})`),
		replacement: "***REDACTED_STRIPE_PUBLISHABLE***",
	},
}

// Mask replaces sensitive substrings with fixed redaction tokens. Text
// with no matches passes through unchanged.
func Mask(text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return text
}
