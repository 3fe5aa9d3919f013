package extensions

// Ancestor is one entry of a skin's inheritance chain. Info is nil when the
// ancestor could not be resolved (missing from the store, or part of a cycle).
type Ancestor struct {
	Name        string
	DisplayName string
	Info        *Info
}

// Known reports whether the ancestor resolved to a descriptor.
func (a Ancestor) Known() bool { return a.Info != nil }

// Ancestry returns the ancestors of the named skin, oldest first.
func (s *Store) Ancestry(name string) []Ancestor {
	return ResolveAncestry(s.ListSkins(), name)
}

// ResolveAncestry follows base_theme pointers from name, oldest ancestor first.
//
// A parent missing from skins stops the walk; it is reported as unknown at the
// oldest position and the ancestors resolved before it are kept. A cycle also
// stops the walk; the skin that closes the cycle is reported once, as unknown,
// at the oldest position.
func ResolveAncestry(skins map[string]*Info, name string) []Ancestor {
	start, ok := skins[name]
	if !ok {
		return nil
	}

	var chain []Ancestor // youngest first while walking
	visited := map[string]bool{name: true}
	current := start

	for current.BaseTheme != "" {
		base := current.BaseTheme
		parent, ok := skins[base]
		if !ok {
			chain = append(chain, Ancestor{Name: base})
			break
		}
		if visited[base] {
			chain = removeAncestor(chain, base)
			chain = append(chain, Ancestor{Name: base})
			break
		}
		visited[base] = true
		chain = append(chain, Ancestor{Name: base, DisplayName: parent.Label(), Info: parent})
		current = parent
	}

	// Reverse to oldest first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func removeAncestor(chain []Ancestor, name string) []Ancestor {
	out := chain[:0]
	for _, a := range chain {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}

// SubThemePaths returns the directories of every skin that descends from name,
// directly or transitively. Template discovery for name skips these so a base
// skin does not pick up templates of sub-skins stored inside its tree.
func SubThemePaths(skins map[string]*Info, name string) []string {
	children := make(map[string][]string)
	for childName, info := range skins {
		if info.BaseTheme != "" {
			children[info.BaseTheme] = append(children[info.BaseTheme], childName)
		}
	}

	var paths []string
	visited := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if visited[child] {
				continue
			}
			visited[child] = true
			if p := skins[child].Path; p != "" {
				paths = append(paths, p)
			}
			queue = append(queue, child)
		}
	}
	return sortedStrings(paths)
}
