package boardview

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/board.css
var staticAssets embed.FS

// StaticHandler serves the page stylesheet under /static/.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticAssets, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
