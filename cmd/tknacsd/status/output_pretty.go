/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package status

import (
	"fmt"
	"io"
	"text/template"

	"github.com/muesli/termenv"

	"github.com/tknacs/tknacsd/server/api"
)

const prettyTemplate = `
{{- WithServiceColor (Bold "service")}}: {{WithServiceColor (or .Name "unknown")}}
  {{Bold "message"}}: {{.Message}}
  {{Bold "version"}}: {{.Version}}
  {{Bold "database"}}: {{.Database}}
  {{Bold "behavior"}}: {{.Behavior}}
  {{Bold "window"}}: {{.Window}}
`

func templateFuncs(p termenv.Profile, banner *api.Banner) template.FuncMap {
	// Define some colors.
	okColor := p.Color("112")
	nokColor := p.Color("196")

	// Subset of the helpers in termenv, so we have better control and can turn
	// of all formatting of the terminal supports ASCII only.
	return template.FuncMap{
		"Bold": func(values ...interface{}) string {
			if p == termenv.Ascii {
				// Do not do any bold, if terminal only supports ASCII.
				return values[0].(string)
			}
			s := termenv.String(values[0].(string))
			return s.Bold().String()
		},
		"WithServiceColor": func(values ...interface{}) string {
			s := termenv.String(fmt.Sprintf("%v", values[len(values)-1]))
			if banner.Name != "" {
				s = s.Foreground(okColor)
			} else {
				s = s.Foreground(nokColor)
			}
			return s.String()
		},
	}
}

func outputPretty(w io.Writer, banner *api.Banner) error {
	// Load helpers and template.
	f := templateFuncs(termenv.ColorProfile(), banner)
	tpl, err := template.New("tpl").Funcs(f).Parse(prettyTemplate)
	if err != nil {
		panic(err)
	}

	// Render.
	return tpl.Execute(w, banner)
}
