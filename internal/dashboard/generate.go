// Package dashboard renders Grafana dashboards for the position history
// table written by the GreptimeDB sink.
package dashboard

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// DatasourceEnv names the variable holding the Grafana datasource UID
// when Options.DatasourceUID is empty.
const DatasourceEnv = "GREPTIMEDB_DATASOURCE_UID"

// Options are the values available to the templates.
type Options struct {
	DatasourceUID string
	Table         string
	// Refresh is the Grafana auto-refresh interval, e.g. "5s".
	Refresh string
}

// Render executes every embedded template and writes the dashboards to outDir.
func Render(outDir string, opts Options) ([]string, error) {
	if opts.DatasourceUID == "" {
		opts.DatasourceUID = os.Getenv(DatasourceEnv)
	}
	if opts.DatasourceUID == "" {
		return nil, fmt.Errorf("datasource uid required: set %s", DatasourceEnv)
	}
	if opts.Table == "" {
		opts.Table = "drone_positions"
	}
	if opts.Refresh == "" {
		opts.Refresh = "5s"
	}

	names, err := fs.Glob(templates, "templates/*.json.tmpl")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, name := range names {
		t, err := template.New(filepath.Base(name)).ParseFS(templates, name)
		if err != nil {
			return nil, err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(name), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return nil, err
		}
		if err := t.Execute(f, opts); err != nil {
			f.Close()
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		written = append(written, outPath)
	}
	return written, nil
}
