// Package pages holds the HTML components served by the file server.
package pages

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const head = `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><meta name="robots" content="noindex">`

// Error renders a minimal error page. dur is shown in the footer.
func Error(dur, heading, message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, head+
			"<title>"+templ.EscapeString(heading)+"</title></head><body>"+
			"<main><h1>"+templ.EscapeString(heading)+"</h1>"+
			"<p>"+templ.EscapeString(message)+"</p></main>"+
			"<footer><small>"+templ.EscapeString(dur)+"</small></footer>"+
			"</body></html>")
		return err
	})
}
