package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultSuffix marks a diagram source as ready for encoding.
const DefaultSuffix = "_clean.puml"

// Result describes one processed diagram source.
type Result struct {
	Source   string
	Name     string
	URL      string
	HTMLPath string
}

// Generator turns every clean diagram source in Dir into a rendering URL
// and an HTML page next to it.
type Generator struct {
	Dir       string
	Suffix    string
	Encoder   Encoder
	Server    Server
	KeepGoing bool

	Logger   *zap.Logger
	Reporter *Reporter
}

// ValidateSuffix rejects suffixes whose pages would themselves count as
// sources, or would replace one: the empty suffix, any suffix of ".html"
// and anything ending in ".html".
func ValidateSuffix(suffix string) error {
	if strings.HasSuffix(".html", suffix) || strings.HasSuffix(suffix, ".html") {
		return errors.Errorf("invalid source suffix %q: written pages would match it", suffix)
	}
	return nil
}

// Match reports whether name is a diagram source.
func (g *Generator) Match(name string) bool {
	return strings.HasSuffix(name, g.Suffix) && len(name) > len(g.Suffix)
}

// Sources lists the diagram sources in Dir, sorted by name. It does not
// descend into subdirectories.
func (g *Generator) Sources() ([]string, error) {
	entries, err := os.ReadDir(g.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", g.Dir)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !g.Match(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Run processes every source. Without KeepGoing it stops at the first
// failure; with it, failures are skipped and returned together at the end.
func (g *Generator) Run(ctx context.Context) ([]Result, error) {
	if err := ValidateSuffix(g.Suffix); err != nil {
		return nil, err
	}
	names, err := g.Sources()
	if err != nil {
		return nil, err
	}
	g.Logger.Debug("found diagram sources", zap.String("dir", g.Dir), zap.Int("count", len(names)))

	var (
		results []Result
		errs    error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(errs, err)
		}
		res, err := g.Process(ctx, name)
		if err != nil {
			if !g.KeepGoing {
				return results, err
			}
			g.Logger.Warn("skipping diagram source", zap.String("source", name), zap.Error(err))
			g.Reporter.Skipped(name, err)
			errs = multierr.Append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// Process encodes a single source, named relative to Dir, and writes its
// HTML page. A cancelled ctx stops it before the page is written.
func (g *Generator) Process(ctx context.Context, name string) (Result, error) {
	src := filepath.Join(g.Dir, name)
	content, err := os.ReadFile(src)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to read %s", src)
	}
	if !utf8.Valid(content) {
		return Result{}, errors.Errorf("failed to read %s: not valid UTF-8", src)
	}

	payload, err := g.Encoder.Encode(content)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to encode %s", src)
	}

	base := strings.TrimSuffix(name, g.Suffix)
	res := Result{
		Source:   src,
		Name:     base + g.Server.Ext(),
		URL:      g.Server.URL(payload),
		HTMLPath: filepath.Join(g.Dir, base+".html"),
	}
	if res.HTMLPath == src {
		return Result{}, errors.Errorf("refusing to overwrite source %s with its page", src)
	}
	g.Reporter.URL(res.Name, res.URL)

	page, err := Page{Name: res.Name, URL: res.URL}.Render()
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, errors.Wrapf(err, "failed to write %s", res.HTMLPath)
	}
	if err := writeFileAtomic(res.HTMLPath, page); err != nil {
		return Result{}, err
	}
	g.Reporter.Created(res.HTMLPath)
	g.Logger.Debug("wrote diagram page",
		zap.String("source", src),
		zap.String("html", res.HTMLPath),
		zap.Int("payload", len(payload)))
	return res, nil
}

// writeFileAtomic leaves either the complete file or the previous one.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
