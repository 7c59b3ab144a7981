// Package view renders email templates from *.tmpl files. Every file
// defines a "subject" and a "body" block.
package view

import (
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"text/template"

	"github.com/willemschots/dreambig/internal/email"
)

// Names end up in file names, so they are restricted to prevent
// directory traversal.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var elements = []email.TemplateElement{email.ElementSubject, email.ElementBody}

// View is a template used to render email messages.
type View struct {
	tmpl *template.Template
}

// Parse parses the template called name from the root of fsys.
func Parse(fsys fs.FS, name string) (*View, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("invalid view name %q", name)
	}

	tmpl, err := template.New(name).ParseFS(fsys, name+".tmpl")
	if err != nil {
		return nil, err
	}

	for _, el := range elements {
		if tmpl.Lookup(string(el)) == nil {
			return nil, fmt.Errorf("view %s: missing %s block", name, el)
		}
	}

	return &View{
		tmpl: tmpl,
	}, nil
}

// Render renders a single element of the view.
func (v *View) Render(w io.Writer, element email.TemplateElement, data any) error {
	return v.tmpl.ExecuteTemplate(w, string(element), data)
}
