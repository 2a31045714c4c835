package service

import "strings"

// CanonicalizeEmail normalizes an email address before any account lookup
// or uniqueness check. All domains are lowercased; for Gmail/Googlemail the
// local part additionally loses dots and any +suffix, since Google treats
// those variants as the same mailbox.
func CanonicalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))

	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return email
	}

	local, domain := parts[0], parts[1]

	if domain == "gmail.com" || domain == "googlemail.com" {
		if idx := strings.Index(local, "+"); idx != -1 {
			local = local[:idx]
		}
		local = strings.ReplaceAll(local, ".", "")
	}

	return local + "@" + domain
}
