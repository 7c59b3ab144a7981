package view

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/willemschots/dreambig/internal/email"
)

// FSRenderer renders views from a file system. Views are parsed on first
// use and cached afterwards.
type FSRenderer struct {
	fs fs.FS

	mu    sync.Mutex
	views map[string]*View
}

func NewFSRenderer(fsys fs.FS) *FSRenderer {
	return &FSRenderer{
		fs:    fsys,
		views: make(map[string]*View),
	}
}

// Preload parses the named views, so broken templates are reported at
// startup instead of when the first email is sent.
func (r *FSRenderer) Preload(names ...string) error {
	var errs []error
	for _, name := range names {
		_, err := r.view(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("view %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (r *FSRenderer) Render(w io.Writer, name string, element email.TemplateElement, data any) error {
	v, err := r.view(name)
	if err != nil {
		return err
	}

	return v.Render(w, element, data)
}

func (r *FSRenderer) view(name string) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.views[name]; ok {
		return v, nil
	}

	v, err := Parse(r.fs, name)
	if err != nil {
		return nil, err
	}

	r.views[name] = v
	return v, nil
}
