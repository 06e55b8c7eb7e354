package report

// categoryExplanations holds per-category context attached to findings during
// normalization, keyed by category then rule name ("default" as fallback).
var categoryExplanations = map[string]map[string]string{
	"cryptography": {
		"default":        "Cryptographic functions can be used for legitimate purposes but are also commonly used in malware for encryption, obfuscation, or data exfiltration.",
		"message_digest": "Message digest algorithms create hash values from data. While useful for data integrity checks, they can also be used to evade detection or verify malicious payloads.",
		"aes_usage":      "AES (Advanced Encryption Standard) is a strong encryption algorithm. While it has legitimate uses, malware often uses it to encrypt data before exfiltration or to encrypt payloads to avoid detection.",
	},
	"authentication": {
		"default":                "Authentication-related code can access sensitive credentials or session information.",
		"session_id_method_yarn": "Methods that access session IDs can potentially be used to hijack user sessions or steal authentication tokens.",
	},
	"networking": {
		"default": "Network-related code can establish connections to remote servers, potentially for command and control or data exfiltration.",
	},
	"permissions": {
		"default": "Code that manipulates permissions can be used to escalate privileges or bypass security controls.",
	},
}

const fallbackExplanation = "This finding indicates potentially suspicious code that should be reviewed for security implications."

// explainCategory returns the explanatory note for a category finding,
// preferring a rule-specific note over the category default.
func explainCategory(category, ruleName string) string {
	rules, ok := categoryExplanations[category]
	if !ok {
		return fallbackExplanation
	}
	if ruleName != "" {
		if note, ok := rules[ruleName]; ok {
			return note
		}
	}
	if note, ok := rules["default"]; ok {
		return note
	}
	return fallbackExplanation
}
