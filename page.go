package main

import (
	"bytes"
	"html/template"

	"github.com/pkg/errors"
)

const pageTmpl = `<!DOCTYPE html>
<html>
<head>
    <title>{{ .Name }}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        h1 { color: #333; }
        img { max-width: 100%; border: 1px solid #ddd; }
        .download-link { margin-top: 10px; }
    </style>
</head>
<body>
    <h1>{{ .Name }}</h1>
    <img src="{{ .URL }}" alt="{{ .Name }}" />
    <div class="download-link">
        <p>Direct URL: <a href="{{ .URL }}" target="_blank">{{ .URL }}</a></p>
        <p>Right-click on the image and select "Save image as..." to download it.</p>
    </div>
</body>
</html>
`

var pageTpl = template.Must(template.New("page").Parse(pageTmpl))

// Page is the data rendered into an HTML page.
type Page struct {
	Name string
	URL  string
}

// Render executes the page template.
func (p Page) Render() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := pageTpl.Execute(buf, p); err != nil {
		return nil, errors.Wrapf(err, "failed to execute template: %s", p.Name)
	}
	return buf.Bytes(), nil
}
