package connections

import (
	"net/url"
	"strings"

	"github.com/oarkflow/json"
)

const maskPlaceholder = "********"

// Masked renders a service for API responses with credential fields
// replaced. Raw configs never leave this package through any other path.
func Masked(svc LinkedService) map[string]any {
	cfg, err := MaskConfig(svc.Config)
	if err != nil {
		cfg = map[string]any{}
	}
	return map[string]any{
		"id":         svc.ID,
		"name":       svc.Name,
		"kind":       svc.Kind,
		"config":     cfg,
		"created_at": svc.CreatedAt,
		"updated_at": svc.UpdatedAt,
	}
}

// MaskConfig returns a map rendering of a config with secret material
// replaced. Connection URIs keep their host but lose the password.
func MaskConfig(cfg ServiceConfig) (map[string]any, error) {
	if cfg == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for key, v := range m {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		switch key {
		case "password", "secret_key", "access_key":
			m[key] = maskPlaceholder
		case "uri":
			m[key] = redactURI(s)
		}
	}
	return m, nil
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return maskPlaceholder
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), maskPlaceholder)
		}
	}
	return u.String()
}

// ScrubSecrets replaces occurrences of the config's secret values in text.
// Every connector error passes through here before it reaches a log line,
// an execution record, or an API response.
func ScrubSecrets(text string, cfg ServiceConfig) string {
	for _, secret := range secretValues(cfg) {
		if secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, secret, maskPlaceholder)
	}
	return text
}

func secretValues(cfg ServiceConfig) []string {
	if cfg == nil {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	var out []string
	for key, v := range m {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		switch key {
		case "password", "secret_key", "access_key":
			out = append(out, s)
		case "uri":
			u, err := url.Parse(s)
			if err != nil || u.User == nil {
				if err != nil {
					out = append(out, s)
				}
				continue
			}
			if pw, has := u.User.Password(); has && pw != "" {
				out = append(out, pw)
			}
		}
	}
	return out
}
