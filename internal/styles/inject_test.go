package styles

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proxyOrigin = "http://localhost:9998"

func TestInjectMarkup(t *testing.T) {
	t.Run("inserts before the closing head tag", func(t *testing.T) {
		doc := "<html><head><title>Shop</title></head><body></body></html>"
		out := InjectMarkup(doc, proxyOrigin)

		require.Contains(t, out, MarkerID)
		assert.Contains(t, out, proxyOrigin+RouteCSS)
		assert.Contains(t, out, proxyOrigin+RouteEvents)
		assert.Less(t, strings.Index(out, MarkerID), strings.Index(out, "</head>"))
		assert.Contains(t, out, "<title>Shop</title>", "original markup survives")
	})

	t.Run("prepends when no head tag exists", func(t *testing.T) {
		doc := "<div>fragment</div>"
		out := InjectMarkup(doc, proxyOrigin)

		require.Contains(t, out, MarkerID)
		assert.True(t, strings.HasSuffix(out, doc), "snippet goes in front of the document")
	})

	t.Run("idempotent on marked documents", func(t *testing.T) {
		doc := "<html><head></head><body></body></html>"
		once := InjectMarkup(doc, proxyOrigin)
		twice := InjectMarkup(once, proxyOrigin)
		assert.Equal(t, once, twice)
	})
}

func TestInjectMarkupProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("injection is idempotent for any document", prop.ForAll(
		func(doc string) bool {
			once := InjectMarkup(doc, proxyOrigin)
			return InjectMarkup(once, proxyOrigin) == once
		},
		gen.AnyString(),
	))

	properties.Property("injected documents always carry exactly one marker", prop.ForAll(
		func(doc string) bool {
			if strings.Contains(doc, MarkerID) {
				return true
			}
			return strings.Count(InjectMarkup(doc, proxyOrigin), MarkerID) == 2 // link id + getElementById
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
