package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// knownOutcome lists accepted outcome values; anything else is dropped.
var knownOutcome = []string{"ok", "fail", "cancelled", "rate_limited", "rejected", "advanced", "stayed"}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"turn_id",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"state",
	"step",
	"next_state",
	"cb_key",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"payload",
	"username",
	"mode",
	"strategy",
	"listen",
	"public_url",
	"http_code",
	"sms_id",
	"status_code",
	"pending",
	"host",
	"port",
	"db",
	"err",
	"err_kind",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
}
