// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UCPanel Contributors

package mail

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/samber/oops"
)

//go:embed templates/*.tmpl
var builtinTemplates embed.FS

// Templates renders named email templates. Each template file defines a
// "subject" and a "body" block.
type Templates struct {
	set map[string]*template.Template
}

// LoadTemplates parses the built-in templates, then any *.tmpl files in dir
// which replace built-ins of the same name. An empty dir uses built-ins only.
func LoadTemplates(dir string) (*Templates, error) {
	t := &Templates{set: map[string]*template.Template{}}

	builtin, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_LOAD_FAILED").Wrap(err)
	}
	if err := t.load(builtin); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := t.load(os.DirFS(dir)); err != nil {
			return nil, oops.With("dir", dir).Wrap(err)
		}
	}
	return t, nil
}

func (t *Templates) load(fsys fs.FS) error {
	paths, err := fs.Glob(fsys, "*.tmpl")
	if err != nil {
		return oops.Code("MAIL_TEMPLATE_LOAD_FAILED").Wrap(err)
	}
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".tmpl")
		tmpl, err := template.New(name).Option("missingkey=error").ParseFS(fsys, path)
		if err != nil {
			return oops.Code("MAIL_TEMPLATE_PARSE_FAILED").With("template", name).Wrap(err)
		}
		for _, block := range []string{"subject", "body"} {
			if tmpl.Lookup(block) == nil {
				return oops.Code("MAIL_TEMPLATE_PARSE_FAILED").With("template", name).
					Errorf("template %s does not define %q", name, block)
			}
		}
		t.set[name] = tmpl
	}
	return nil
}

// Names lists the loaded template names.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.set))
	for name := range t.set {
		names = append(names, name)
	}
	return names
}

// Render executes the named template with vars.
func (t *Templates) Render(name string, vars map[string]string) (subject, body string, err error) {
	tmpl, ok := t.set[name]
	if !ok {
		return "", "", oops.Code("MAIL_TEMPLATE_UNKNOWN").With("template", name).Errorf("unknown email template %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "subject", vars); err != nil {
		return "", "", oops.Code("MAIL_TEMPLATE_RENDER_FAILED").With("template", name).Wrap(err)
	}
	subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := tmpl.ExecuteTemplate(&buf, "body", vars); err != nil {
		return "", "", oops.Code("MAIL_TEMPLATE_RENDER_FAILED").With("template", name).Wrap(err)
	}
	return subject, buf.String(), nil
}
