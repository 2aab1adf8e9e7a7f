package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type cli struct {
	app *kingpin.Application

	verbose  *bool
	suffix   *string
	server   *string
	format   *string
	encoding *string

	html      *kingpin.CmdClause
	htmlDir   *string
	keepGoing *bool
	open      *bool

	watch    *kingpin.CmdClause
	watchDir *string

	decode      *kingpin.CmdClause
	decodeInput *string

	schema         *kingpin.CmdClause
	connStr        *string
	driver         *string
	postgresSchema *string
	targetTbls     *[]string
	xTargetTbls    *[]string
	title          *string
	name           *string
	schemaDir      *string
	schemaHTML     *bool
}

func newCLI() *cli {
	c := &cli{app: kingpin.New("plantlink", "Encode PlantUML diagram sources into rendering-server URLs and HTML pages.")}
	app := c.app

	c.verbose = app.Flag("verbose", "debug logging").Short('v').Bool()
	c.suffix = app.Flag("suffix", "file name suffix of diagram sources").
		Default(DefaultSuffix).Envar("PLANTLINK_SUFFIX").String()
	c.server = app.Flag("server", "rendering server base URL").
		Default(DefaultServerURL).Envar("PLANTLINK_SERVER").String()
	c.format = app.Flag("format", "image format requested from the server").
		Default(DefaultFormat).Envar("PLANTLINK_FORMAT").Enum(Formats...)
	c.encoding = app.Flag("encoding", "payload encoding: "+strings.Join(EncodingNames(), ", ")).
		Default(DefaultEncoding).Envar("PLANTLINK_ENCODING").Enum(EncodingNames()...)

	c.html = app.Command("html", "write an HTML page for every diagram source in a directory").Default()
	c.htmlDir = c.html.Arg("dir", "directory holding the diagram sources").
		Default(".").Envar("PLANTLINK_DIR").ExistingDir()
	c.keepGoing = c.html.Flag("keep-going", "skip sources that fail instead of stopping").
		Short('k').Envar("PLANTLINK_KEEP_GOING").Bool()
	c.open = c.html.Flag("open", "open the written pages in a browser").Bool()

	c.watch = app.Command("watch", "regenerate pages whenever a diagram source changes")
	c.watchDir = c.watch.Arg("dir", "directory holding the diagram sources").
		Default(".").Envar("PLANTLINK_DIR").ExistingDir()

	c.decode = app.Command("decode", "print the diagram source behind a rendering URL or payload")
	c.decodeInput = c.decode.Arg("url", "rendering URL or bare payload").Required().String()

	c.schema = app.Command("schema", "write a diagram source for a MySQL/PostgreSQL schema")
	c.connStr = c.schema.Arg("conn", "MySQL/PostgreSQL connection string in URL format").Required().String()
	c.driver = c.schema.Flag("driver", "driver mysql/postgres").Default("mysql").Short('d').Enum("mysql", "postgres")
	c.postgresSchema = c.schema.Flag("schema", "PostgreSQL schema name").Default("public").Short('s').String()
	c.targetTbls = c.schema.Flag("table", "target tables").Short('t').Strings()
	c.xTargetTbls = c.schema.Flag("exclude", "excluded tables").Short('x').Strings()
	c.title = c.schema.Flag("title", "diagram title").Short('T').String()
	c.name = c.schema.Flag("name", "base name of the diagram source").Default("schema").Short('n').String()
	c.schemaDir = c.schema.Flag("dir", "directory to write the diagram source to").
		Default(".").Envar("PLANTLINK_DIR").ExistingDir()
	c.schemaHTML = c.schema.Flag("html", "also write the HTML page").Bool()
	return c
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	return logger, nil
}

func (c *cli) generator(dir string, logger *zap.Logger, stdout io.Writer) (*Generator, error) {
	if err := ValidateSuffix(*c.suffix); err != nil {
		return nil, err
	}
	enc, err := LookupEncoder(*c.encoding)
	if err != nil {
		return nil, err
	}
	return &Generator{
		Dir:      dir,
		Suffix:   *c.suffix,
		Encoder:  enc,
		Server:   Server{BaseURL: *c.server, Format: *c.format},
		Logger:   logger,
		Reporter: NewReporter(stdout),
	}, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, logger *zap.Logger) error {
	c := newCLI()
	cmd, err := c.app.Parse(args)
	if err != nil {
		return err
	}
	if logger == nil {
		if logger, err = newLogger(*c.verbose); err != nil {
			return err
		}
		defer logger.Sync()
	}

	switch cmd {
	case c.html.FullCommand():
		g, err := c.generator(*c.htmlDir, logger, stdout)
		if err != nil {
			return err
		}
		g.KeepGoing = *c.keepGoing
		results, err := g.Run(ctx)
		if *c.open {
			openPages(logger, results)
		}
		return err
	case c.watch.FullCommand():
		g, err := c.generator(*c.watchDir, logger, stdout)
		if err != nil {
			return err
		}
		return Watch(ctx, g)
	case c.decode.FullCommand():
		src, err := decodeInput(*c.decodeInput, *c.encoding)
		if err != nil {
			return err
		}
		_, err = stdout.Write(src)
		return err
	case c.schema.FullCommand():
		return c.runSchema(ctx, logger, stdout)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func decodeInput(input, encoding string) ([]byte, error) {
	enc, err := LookupEncoder(encoding)
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(input)
	if strings.Contains(payload, "://") {
		if _, payload, err = ParseURL(payload); err != nil {
			return nil, err
		}
	}
	return enc.Decode(payload)
}

func (c *cli) runSchema(ctx context.Context, logger *zap.Logger, stdout io.Writer) error {
	if err := ValidateSuffix(*c.suffix); err != nil {
		return err
	}
	planter, err := NewPlanter(*c.driver, *c.postgresSchema)
	if err != nil {
		return err
	}
	if err := planter.Open(ctx, *c.connStr); err != nil {
		return err
	}
	defer planter.Close()

	ts, err := planter.LoadTables(ctx)
	if err != nil {
		return err
	}
	// use foreign key analysis if no table declares fks
	InferForeignKeys(ts)

	tbls := ts
	if len(*c.targetTbls) != 0 {
		if tbls, err = FilterTables(true, tbls, *c.targetTbls); err != nil {
			return err
		}
	}
	if len(*c.xTargetTbls) != 0 {
		if tbls, err = FilterTables(false, tbls, *c.xTargetTbls); err != nil {
			return err
		}
	}
	src, err := RenderUML(tbls, *c.title)
	if err != nil {
		return err
	}
	file, err := WriteSchemaSource(*c.schemaDir, *c.name, *c.suffix, src)
	if err != nil {
		return err
	}
	logger.Info("wrote diagram source", zap.String("file", file), zap.Int("tables", len(tbls)))

	if !*c.schemaHTML {
		return nil
	}
	g, err := c.generator(*c.schemaDir, logger, stdout)
	if err != nil {
		return err
	}
	_, err = g.Process(ctx, file)
	return err
}

func openPages(logger *zap.Logger, results []Result) {
	for _, res := range results {
		if err := browser.OpenFile(res.HTMLPath); err != nil {
			logger.Warn("failed to open browser", zap.String("page", res.HTMLPath), zap.Error(err))
		}
	}
}

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		stop()
		log.Fatalf("plantlink: %v", err)
	}
}
