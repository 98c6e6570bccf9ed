package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/RahmatullahZadran/appss/internal/httpx"
)

// originSet holds exact origins plus "*.host" suffix patterns per scheme.
type originSet struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string // "https://.example.com"
}

func newOriginSet(origins []string) originSet {
	set := originSet{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		switch {
		case o == "":
		case o == "*":
			set.any = true
		case strings.Contains(o, "://*."):
			set.suffixes = append(set.suffixes, strings.Replace(o, "://*.", "://.", 1))
		default:
			set.exact[o] = struct{}{}
		}
	}
	return set
}

func (s originSet) empty() bool {
	return !s.any && len(s.exact) == 0 && len(s.suffixes) == 0
}

func (s originSet) allows(origin string) bool {
	origin = strings.ToLower(origin)
	if _, ok := s.exact[origin]; s.any || ok {
		return true
	}
	scheme, host, ok := strings.Cut(origin, "://")
	if !ok {
		return false
	}
	for _, suf := range s.suffixes {
		sufScheme, sufHost, _ := strings.Cut(suf, "://")
		if scheme == sufScheme && strings.HasSuffix(host, sufHost) && len(host) > len(sufHost) {
			return true
		}
	}
	return false
}

// OriginAllowed rejects requests whose Origin header is not listed. An empty
// list allows every origin. Entries like "https://*.example.com" match any
// subdomain.
func OriginAllowed(allowedOrigins []string) fiber.Handler {
	set := newOriginSet(allowedOrigins)
	return func(c *fiber.Ctx) error {
		origin := strings.TrimSpace(c.Get(fiber.HeaderOrigin))
		if origin == "" || set.empty() || set.allows(origin) {
			return c.Next()
		}
		return httpx.Forbidden(c, "forbidden_origin", "Origin not allowed")
	}
}
