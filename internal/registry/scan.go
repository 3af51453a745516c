package registry

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// TemplateFromFile derives a normalized route template from a route
// module file path. The extension is stripped, an "index" basename
// collapses to its directory, and bracketed segments stay dynamic:
//
//	index.yaml            → /
//	users/index.yaml      → /users
//	users/[id].yaml       → /users/[id]
//	auth/[...]/index.yaml is not special; brackets pass through as-is.
func TemplateFromFile(file string) string {
	file = strings.TrimSuffix(file, path.Ext(file))

	dir, base := path.Split(file)
	if base == "index" {
		file = strings.TrimSuffix(dir, "/")
	}

	if file == "" || file == "." {
		return "/"
	}
	return "/" + strings.Trim(file, "/")
}

// DiscoverFS walks a route tree lexicographically (fs.WalkDir order)
// and registers each discovered file's module from mods under the
// template derived from its path. A discovered file with no bound
// module is a configuration error: route declarations and their typed
// modules must stay in lockstep.
//
// The walk order is what makes named-segment resolution reproducible
// across platforms, so discovery must stay the single registration
// front end for filesystem-declared routes.
func DiscoverFS(fsys fs.FS, mods ModuleMap) (*Builder, error) {
	b := NewBuilder()

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		template := TemplateFromFile(p)
		mod, ok := mods[template]
		if !ok {
			return fmt.Errorf("discovered route %s (%s) has no bound module", template, p)
		}

		return b.RegisterModule(template, mod)
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// LoadFS discovers a route tree and swaps the result into the registry.
func (r *Registry) LoadFS(fsys fs.FS, mods ModuleMap) error {
	b, err := DiscoverFS(fsys, mods)
	if err != nil {
		return err
	}
	r.Swap(b)
	return nil
}
