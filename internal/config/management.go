package config

import "golang.org/x/crypto/bcrypt"

// CheckAdminKey reports whether candidate matches the configured admin API
// key, either as a plaintext match against AdminAPIKey or, if AdminAPIKeyHash
// is set, as a bcrypt hash match. A bcrypt hash lets an operator keep the
// admin key out of the config file in plaintext.
func CheckAdminKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.AdminAPIKey != "" && candidate == cfg.AdminAPIKey {
		return true
	}
	if cfg.AdminAPIKeyHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.AdminAPIKeyHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}

// AdminKeyConfigured reports whether any admin key (plaintext or hashed) is
// set, i.e. whether the admin surface requires authentication at all.
func AdminKeyConfigured(cfg *Config) bool {
	return cfg != nil && (cfg.AdminAPIKey != "" || cfg.AdminAPIKeyHash != "")
}
