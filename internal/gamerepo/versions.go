package gamerepo

// housekeepingName is version-control metadata that is never a resource.
const housekeepingName = ".svn"

// MaxVersion returns the largest N for which prefix has a v<N> child
// directory, or 0 when there is none or prefix is not a readable directory.
func (r *Repository) MaxVersion(prefix string) int {
	fi, err := r.store.Stat(prefix)
	if err != nil || !fi.IsDir() {
		return 0
	}
	entries, err := readDir(r.store, prefix)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := versionMarker(e.Name()); ok && n > highest {
			highest = n
		}
	}
	return highest
}

func versionMarker(name string) (int, bool) {
	if len(name) < 2 || name[0] != 'v' {
		return 0, false
	}
	return parseVersion(name[1:])
}
