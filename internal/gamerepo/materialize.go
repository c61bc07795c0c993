package gamerepo

import (
	"bytes"
	"os"
	"path"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/afero"
)

// Kind says how a resource body was produced.
type Kind int

const (
	// KindAbsent marks a store path that does not exist. Its body is "{}"
	// like KindUnreadable, but version fallback skips it.
	KindAbsent Kind = iota
	// KindUnreadable marks a path that exists but could not be read.
	KindUnreadable
	KindDirectory
	KindImage
	KindStylesheet
	KindScript
	KindText
	KindMetadata
	KindAggregate
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindUnreadable:
		return "unreadable"
	case KindDirectory:
		return "directory"
	case KindImage:
		return "image"
	case KindStylesheet:
		return "stylesheet"
	case KindScript:
		return "script"
	case KindText:
		return "text"
	case KindMetadata:
		return "metadata"
	case KindAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// Materialized is the servable body for one store path.
type Materialized struct {
	Body []byte
	Kind Kind
}

// Absent reports whether version fallback should move past this result.
func (m Materialized) Absent() bool { return m.Kind == KindAbsent }

// boardInterfaceToken is replaced in scripts with the shared board
// interface fragment.
var boardInterfaceToken = []byte("[BOARD_INTERFACE_JS]")

// imageExtensions are served byte for byte.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".ico":  true,
	".webp": true,
	".bmp":  true,
}

func emptyObject() []byte { return []byte("{}") }

// Materialize turns a store path into a response body. It never fails:
// missing or unreadable files come back as "{}" with KindAbsent or
// KindUnreadable so callers can tell the two apart.
func (r *Repository) Materialize(name string) Materialized {
	fi, err := r.store.Stat(name)
	if err != nil {
		return Materialized{Body: emptyObject(), Kind: KindAbsent}
	}
	if fi.IsDir() {
		return r.materializeDir(name)
	}

	raw, err := afero.ReadFile(r.store, name)
	if err != nil {
		return Materialized{Body: emptyObject(), Kind: KindUnreadable}
	}

	ext := strings.ToLower(path.Ext(name))
	switch {
	case imageExtensions[ext]:
		return Materialized{Body: raw, Kind: KindImage}
	case ext == ".xsl":
		return Materialized{Body: r.stylesheet(raw), Kind: KindStylesheet}
	case ext == ".js":
		body, ok := r.script(raw)
		if !ok {
			return Materialized{Body: emptyObject(), Kind: KindUnreadable}
		}
		return Materialized{Body: body, Kind: KindScript}
	default:
		return Materialized{Body: NormalizeLines(raw), Kind: KindText}
	}
}

func (r *Repository) materializeDir(name string) Materialized {
	entries, err := readDir(r.store, name)
	if err != nil {
		return Materialized{Body: emptyObject(), Kind: KindUnreadable}
	}
	names := make([]any, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return Materialized{Body: []byte(oj.JSON(names)), Kind: KindDirectory}
}

// stylesheet prepends a DOCTYPE that defines the ROOT entity as the
// repository's base URL so stylesheets can reference sibling resources.
func (r *Repository) stylesheet(raw []byte) []byte {
	var b bytes.Buffer
	b.WriteString(`<!DOCTYPE stylesheet [<!ENTITY ROOT "`)
	b.WriteString(r.baseURL)
	b.WriteString("\">]>\n\n")
	b.Write(NormalizeLines(raw))
	return b.Bytes()
}

// script substitutes the first board interface token with the fragment,
// which is read on every call so edits show up without a restart.
func (r *Repository) script(raw []byte) ([]byte, bool) {
	text := NormalizeLines(raw)
	if !bytes.Contains(text, boardInterfaceToken) {
		return text, true
	}
	frag, err := afero.ReadFile(r.fragmentFS, r.boardInterfacePath)
	if err != nil {
		return nil, false
	}
	return bytes.Replace(text, boardInterfaceToken, frag, 1), true
}

// NormalizeLines rewrites CRLF and lone CR terminators to LF and makes sure
// the last line is terminated.
func NormalizeLines(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+1)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\r' {
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
			out = append(out, '\n')
			continue
		}
		out = append(out, c)
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}

// readDir lists dir sorted by name with housekeeping entries removed.
func readDir(fsys afero.Fs, dir string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name() == housekeepingName {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
