package styles

import (
	"fmt"
	"strings"
)

// MarkerID is both the idempotency check and the mutation target for
// the live-reload script.
const MarkerID = "storewatch-live-css"

const headCloseTag = "</head>"

// InjectMarkup inserts a stylesheet link to the compiled CSS and a
// listener that swaps the link's href on every css-update frame. It is
// idempotent: documents already carrying the marker are returned
// unchanged. Documents without a closing head tag get the snippet
// prepended instead.
func InjectMarkup(html, proxyOrigin string) string {
	if strings.Contains(html, MarkerID) {
		return html
	}

	snippet := buildSnippet(proxyOrigin)

	if idx := strings.Index(html, headCloseTag); idx >= 0 {
		return html[:idx] + snippet + html[idx:]
	}
	return snippet + html
}

func buildSnippet(proxyOrigin string) string {
	cssURL := proxyOrigin + RouteCSS
	eventsURL := proxyOrigin + RouteEvents

	return fmt.Sprintf(`<link id=%q rel="stylesheet" href="%s">
<script>
(function () {
	var link = document.getElementById(%q);
	var lastVersion = 0;
	var source = new EventSource(%q);
	source.onmessage = function (event) {
		var message = JSON.parse(event.data);
		if (message.type !== "css-update" || message.version <= lastVersion) {
			return;
		}
		lastVersion = message.version;
		link.href = %q + "?v=" + message.version;
	};
})();
</script>
`, MarkerID, cssURL, MarkerID, eventsURL, cssURL)
}
