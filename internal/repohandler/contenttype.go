package repohandler

import (
	"path"
	"strings"

	"github.com/Tener/ggp-aps/internal/gamerepo"
)

const jsonType = "application/json; charset=utf-8"

// contentTypeFor picks a Content-Type from the body kind, then the file
// extension. Placeholder bodies ("{}") are always JSON.
func contentTypeFor(reqPath string, k gamerepo.Kind) string {
	switch k {
	case gamerepo.KindAbsent, gamerepo.KindUnreadable,
		gamerepo.KindDirectory, gamerepo.KindMetadata, gamerepo.KindAggregate:
		return jsonType
	case gamerepo.KindStylesheet:
		return "text/xsl; charset=utf-8"
	case gamerepo.KindScript:
		return "text/javascript; charset=utf-8"
	}

	ext := strings.ToLower(path.Ext(reqPath))
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".ico":
		return "image/x-icon"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".json":
		return jsonType
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".xml":
		return "application/xml; charset=utf-8"
	default:
		// .kif rule sheets and anything else line-normalized
		return "text/plain; charset=utf-8"
	}
}
