package codes

import (
	"regexp"
	"strings"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Classifier определяет тип кода по префиксу. Сканеры часто отдают не сам код,
// а ссылку отслеживания вида https://host/q/CASE-001 — такие обёртки снимаются.
type Classifier struct {
	MasterPrefix     string
	UniquePrefix     string // пусто — любой код без MasterPrefix считается единицей
	TrackingSegments []string
}

func (c Classifier) Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	for _, seg := range c.TrackingSegments {
		if seg == "" {
			continue
		}
		if i := strings.LastIndex(s, seg); i >= 0 {
			s = s[i+len(seg):]
		}
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "/")
}

func (c Classifier) Classify(raw string) (string, Kind) {
	code := c.Canonical(raw)
	if code == "" || !codePattern.MatchString(code) {
		return code, KindUnknown
	}
	if c.MasterPrefix != "" && strings.HasPrefix(code, c.MasterPrefix) {
		if len(code) == len(c.MasterPrefix) {
			return code, KindUnknown
		}
		return code, KindMaster
	}
	if c.UniquePrefix == "" || strings.HasPrefix(code, c.UniquePrefix) {
		return code, KindUnique
	}
	return code, KindUnknown
}
