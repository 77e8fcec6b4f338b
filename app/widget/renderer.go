package widget

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/posts"
)

const placeholderFill = "#f0f0f0"

// Tile pairs a sanitized record with the raw record it came from. Source is
// only rendered in debug mode.
type Tile struct {
	Post   posts.DisplayRecord
	Source posts.PostRecord
}

// Renderer builds markup fragments for one widget container. Every value
// that did not originate in this file goes through posts.EscapeForMarkup.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Loading() string {
	return `<div class="kiss-blog-posts-loading">Loading posts...</div>`
}

func (r *Renderer) Retrying(attempt, maxRetries int, delay time.Duration) string {
	seconds := int(math.Ceil(delay.Seconds()))
	return fmt.Sprintf(
		`<div class="kiss-blog-posts-loading kiss-blog-posts-retrying" data-attempt="%d" data-countdown="%d">Connection problem. Retrying in %d %s (attempt %d of %d)...</div>`,
		attempt, seconds, seconds, plural(seconds, "second", "seconds"), attempt, maxRetries)
}

func (r *Renderer) Empty() string {
	return `<div class="kiss-blog-posts-empty">No posts found.</div>`
}

// Error renders the terminal failure panel. detail is appended only when
// non-empty, which the controller does in debug mode.
func (r *Renderer) Error(message, detail string) string {
	var buf bytes.Buffer

	buf.WriteString(`<div class="kiss-blog-posts-error">`)
	buf.WriteString(`<p class="error-message">`)
	buf.WriteString(posts.EscapeForMarkup(message))
	buf.WriteString(`</p>`)
	if detail != "" {
		buf.WriteString(`<p class="error-detail"><code>`)
		buf.WriteString(posts.EscapeForMarkup(detail))
		buf.WriteString(`</code></p>`)
	}
	buf.WriteString(`<button type="button" class="kiss-blog-posts-retry" data-action="retry">Try Again</button>`)
	buf.WriteString(`</div>`)

	return buf.String()
}

func (r *Renderer) Tiles(tiles []Tile, debug bool) string {
	var buf bytes.Buffer

	for _, tile := range tiles {
		r.writeTile(&buf, tile, debug)
	}

	return buf.String()
}

func (r *Renderer) writeTile(buf *bytes.Buffer, tile Tile, debug bool) {
	post := tile.Post
	link := posts.EscapeForMarkup(post.Link)

	fmt.Fprintf(buf, `<div class="kiss-blog-posts-tile" data-id="%d" data-href="%s" role="link" tabindex="0">`, post.ID, link)

	if debug {
		buf.WriteString(`<pre class="kiss-blog-posts-debug">`)
		buf.WriteString(posts.EscapeForMarkup(debugDump(tile.Source)))
		buf.WriteString(`</pre>`)
	}

	if post.HasImage() {
		buf.WriteString(`<div class="tile-image" style="background-image: url(&#34;`)
		buf.WriteString(posts.EscapeForMarkup(post.ImageURL))
		buf.WriteString(`&#34;);"></div>`)
	} else {
		buf.WriteString(`<div class="tile-image" style="background-color: ` + placeholderFill + `;"></div>`)
	}

	buf.WriteString(`<div class="tile-content">`)
	fmt.Fprintf(buf, `<h3 class="tile-title"><a href="%s">%s</a></h3>`, link, posts.EscapeForMarkup(post.Title))
	if post.Excerpt != "" {
		fmt.Fprintf(buf, `<p class="tile-excerpt">%s</p>`, posts.EscapeForMarkup(post.Excerpt))
	}
	fmt.Fprintf(buf, `<p class="tile-date">%s</p>`, posts.EscapeForMarkup(post.Date))
	buf.WriteString(`</div>`)

	buf.WriteString(`</div>`)
}

// Stylesheet renders the container and tile rules for a style.
func (r *Renderer) Stylesheet(style Style) string {
	style = style.Normalize()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, ".kiss-blog-posts-container {\n  gap: %dpx !important;\n}\n", style.TileSpacing)
	fmt.Fprintf(&buf, ".kiss-blog-posts-tile {\n  border-radius: %dpx !important;\n  box-shadow: 0 4px %dpx %dpx %s !important;\n}\n",
		style.BorderRadius, style.ShadowBlur, style.ShadowSpread, style.ShadowRGBA())
	fmt.Fprintf(&buf, ".kiss-blog-posts-tile .tile-image {\n  border-radius: %dpx %dpx 0 0 !important;\n}\n",
		style.BorderRadius, style.BorderRadius)
	fmt.Fprintf(&buf, ".kiss-blog-posts-tile .tile-content {\n  padding: %dpx !important;\n}\n", style.ContentPadding)

	return buf.String()
}

func debugDump(record posts.PostRecord) string {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", record)
	}
	return string(data)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
