package tree

import (
	"regexp"
)

// Search returns the paths of passwords in d whose name contains pattern
// literally, descending into subdirectories when deep is set.
func (d *Directory) Search(pattern string, deep bool) ([]string, error) {
	re, err := regexp.Compile(regexp.QuoteMeta(pattern))
	if err != nil {
		return nil, err
	}
	return d.SearchRegexp(re, deep)
}

// SearchRegexp is Search with a caller-supplied expression. Results follow
// name order, so they are stable for a given tree.
func (d *Directory) SearchRegexp(re *regexp.Regexp, deep bool) ([]string, error) {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if _, err := d.t.nodeLocked(d.id, kindDirectory); err != nil {
		return nil, err
	}
	var matches []string
	d.t.searchLocked(d.id, re, deep, &matches)
	return matches, nil
}

func (t *Tree) searchLocked(id NodeID, re *regexp.Regexp, deep bool, matches *[]string) {
	n := t.nodes[id]
	for _, name := range sortedNames(n.passwords) {
		if re.MatchString(name) {
			*matches = append(*matches, t.pathLocked(n.passwords[name]))
		}
	}
	if !deep {
		return
	}
	for _, name := range sortedNames(n.dirs) {
		t.searchLocked(n.dirs[name], re, deep, matches)
	}
}
