package filter

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

var ugcPolicy = bluemonday.UGCPolicy()

// RenderMessage renders message markdown to HTML that is safe to embed.
// Stored message text is never altered; markup in it is only neutralized here.
func RenderMessage(text string) string {
	unsafe := blackfriday.Run([]byte(text), blackfriday.WithExtensions(
		blackfriday.CommonExtensions|blackfriday.HardLineBreak,
	))
	return strings.TrimSpace(string(ugcPolicy.SanitizeBytes(unsafe)))
}
