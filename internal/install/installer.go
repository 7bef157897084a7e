package install

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/progress"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

//go:embed scripts/start.sh.tmpl
var startScript string

var startScriptTemplate = template.Must(template.New("start.sh").Parse(startScript))

const (
	DefaultPort = 25565
	serverJar   = "server.jar"

	weightSetup    = 0.05
	weightDownload = 0.40
	weightScripts  = 0.10
)

// ErrServerExists is returned when the target directory already holds an
// mcpanel server definition.
var ErrServerExists = errors.New("server already exists")

// Options describe a new vanilla server.
type Options struct {
	Name    string
	Version string
	Xms     string
	Xmx     string
	Port    int
	// AcceptEULA is written to eula.txt as-is.
	AcceptEULA    bool
	RCONPort      int
	RCONPassword  string
	JavaBin       string
	ExtraJavaArgs string
}

func (o Options) withDefaults() Options {
	if o.Version == "" {
		o.Version = "latest"
	}
	if o.Xms == "" {
		o.Xms = server.DefaultXms
	}
	if o.Xmx == "" {
		o.Xmx = server.DefaultXmx
	}
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.RCONPort <= 0 {
		o.RCONPort = config.DefaultRCONPort
	}
	if o.RCONPassword == "" {
		o.RCONPassword = config.DefaultRCONPassword
	}
	if o.JavaBin == "" {
		o.JavaBin = server.DefaultJavaBin
	}
	return o
}

// Installer creates server directories under a layout.
type Installer struct {
	layout      server.Layout
	fetcher     Fetcher
	manifestURL string
	now         func() time.Time
}

// NewInstaller creates an installer. A nil fetcher uses HTTP.
func NewInstaller(layout server.Layout, fetcher Fetcher) *Installer {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}
	return &Installer{
		layout:      layout,
		fetcher:     fetcher,
		manifestURL: ManifestURL,
		now:         time.Now,
	}
}

// SetManifestURL points the installer at a different version manifest.
func (i *Installer) SetManifestURL(url string) {
	i.manifestURL = url
}

// Create installs a vanilla server, reporting progress lines to sink.
func (i *Installer) Create(ctx context.Context, opts Options, sink progress.Sink) (server.Handle, *config.ServerDefinition, error) {
	opts = opts.withDefaults()
	if err := server.ValidateName(opts.Name); err != nil {
		return server.Handle{}, nil, err
	}
	def := &config.ServerDefinition{
		ID:      uuid.NewString(),
		Name:    opts.Name,
		Loader:  "vanilla",
		Version: opts.Version,
		Runtime: config.ServerRuntime{
			JavaXms:       opts.Xms,
			JavaXmx:       opts.Xmx,
			ExtraJavaArgs: opts.ExtraJavaArgs,
		},
		RCONPort: opts.RCONPort,
	}
	if err := config.ValidateServerDefinition(def); err != nil {
		return server.Handle{}, nil, err
	}

	h, err := i.layout.Handle(opts.Name)
	if err != nil {
		return server.Handle{}, nil, err
	}
	if _, err := os.Stat(filepath.Join(h.Dir, config.DefinitionFile)); err == nil {
		return h, nil, fmt.Errorf("%w: %s", ErrServerExists, opts.Name)
	}

	p := progress.NewTracker(sink)
	log.Printf("[Install] Creating server %s in %s", opts.Name, h.Dir)

	p.Start(weightSetup, fmt.Sprintf("Preparing “%s”…", opts.Name))
	var manifest versionManifest
	if err := i.fetcher.GetJSON(ctx, i.manifestURL, &manifest); err != nil {
		return h, nil, fmt.Errorf("failed to fetch version manifest: %w", err)
	}
	version, err := resolveVersion(&manifest, opts.Version)
	if err != nil {
		return h, nil, err
	}
	if err := writeEULA(h.Dir, opts.AcceptEULA); err != nil {
		return h, nil, err
	}
	if err := config.EnsureRCONProperties(h.PropertiesFile(), opts.RCONPort, opts.RCONPassword); err != nil {
		return h, nil, err
	}
	if err := config.WriteProperties(h.PropertiesFile(), map[string]string{
		"server-port": strconv.Itoa(opts.Port),
		"motd":        opts.Name + " on mc-panel",
	}, "server-port", "motd"); err != nil {
		return h, nil, err
	}
	p.End(fmt.Sprintf("Using Minecraft %s.", version))

	p.Start(weightDownload, "Downloading vanilla server…")
	dl, err := i.serverDownload(ctx, &manifest, version)
	if err != nil {
		return h, nil, err
	}
	last := -1
	report := func(done, total int64) {
		if total <= 0 {
			return
		}
		ratio := float64(done) / float64(total)
		if pct := p.Percent(ratio); pct != last {
			last = pct
			p.Emit(ratio, "Downloading server…")
		}
	}
	if err := i.downloadJar(ctx, dl, filepath.Join(h.Dir, serverJar), report); err != nil {
		return h, nil, err
	}
	p.End("Vanilla server downloaded.")

	if _, err := os.Stat(filepath.Join(h.Dir, "start.sh")); errors.Is(err, os.ErrNotExist) {
		p.Start(weightScripts, "Writing start scripts…")
		if err := writeStartScript(h.Dir, opts); err != nil {
			return h, nil, err
		}
		p.End("Launch scripts ready.")
	}

	p.Start(p.Remaining(), "Finalizing…")
	def.Version = version
	def.CreatedAt = i.now().UTC()
	if err := config.SaveServer(h.Dir, def); err != nil {
		return h, nil, err
	}
	if err := os.MkdirAll(h.LogDir(), 0o755); err != nil {
		return h, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	p.End("Finished setup.")
	if sink != nil {
		sink("100% Done.")
	}
	log.Printf("[Install] Server %s ready (Minecraft %s)", opts.Name, version)
	return h, def, nil
}

func writeEULA(dir string, accept bool) error {
	content := fmt.Sprintf("eula=%t\n", accept)
	if err := os.WriteFile(filepath.Join(dir, "eula.txt"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write eula.txt: %w", err)
	}
	return nil
}

func writeStartScript(dir string, opts Options) error {
	extra := strings.TrimSpace(opts.ExtraJavaArgs)
	if extra != "" {
		extra += " "
	}
	var buf bytes.Buffer
	err := startScriptTemplate.Execute(&buf, struct {
		JavaBin   string
		Jar       string
		Xms       string
		Xmx       string
		ExtraArgs string
	}{opts.JavaBin, serverJar, opts.Xms, opts.Xmx, extra})
	if err != nil {
		return fmt.Errorf("failed to render start.sh: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "start.sh"), buf.Bytes(), 0o755); err != nil {
		return fmt.Errorf("failed to write start.sh: %w", err)
	}
	return nil
}
