package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// PublicFiles serves any file under dir for paths no route claimed. API
// paths, directories and missing files get the JSON 404 envelope.
func PublicFiles(dir string) gin.HandlerFunc {
	root := gin.Dir(dir, false)

	return func(c *gin.Context) {
		name := path.Clean("/" + c.Request.URL.Path)
		if (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) ||
			name == "/api" || strings.HasPrefix(name, "/api/") {
			notFound(c)
			return
		}

		f, err := root.Open(name)
		if err != nil {
			notFound(c)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			notFound(c)
			return
		}
		// ServeContent rather than FileServer, which redirects /index.html to /.
		http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
}
