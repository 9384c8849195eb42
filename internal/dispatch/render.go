package dispatch

import (
	"strings"

	"github.com/avelara/dripfeed/internal/db"
)

// renderTokens substitutes recipient personalization tokens in a
// sequence template. Unknown tokens are left untouched so a typo in a
// template is visible in the delivered message rather than silently
// swallowed.
func renderTokens(text string, rec *db.Recipient) string {
	r := strings.NewReplacer(
		"{{name}}", rec.Name,
		"{{email}}", rec.Email,
		"{{phone}}", rec.Phone,
	)
	return r.Replace(text)
}
