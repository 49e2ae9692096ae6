package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
	"github.com/glassboxhq/glassbox/internal/installer/registry"
	"github.com/glassboxhq/glassbox/internal/manifest"
	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// Options configures an Installer.
type Options struct {
	FS       *vfs.FS
	Registry *registry.Client
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics // optional
	Root     string              // project root, defaults to "/"
}

// Installer performs install passes against one project root.
type Installer struct {
	fs      *vfs.FS
	reg     *registry.Client
	log     *logging.Logger
	metrics *monitoring.Metrics
	root    string
}

// Result describes one successfully installed package.
type Result struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Files   int      `json:"files"`
	Bins    []string `json:"bins,omitempty"`
}

// Failure describes one package that could not be installed.
type Failure struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Reason is the failure message for serialization.
func (f Failure) Reason() string { return f.Err.Error() }

// Report is the outcome of one install pass. A pass with failures still
// carries every package that did install.
type Report struct {
	Installed []Result
	Failed    []Failure
}

// New builds an installer.
func New(opts Options) (*Installer, error) {
	if opts.FS == nil || opts.Registry == nil {
		return nil, fmt.Errorf("installer: filesystem and registry are required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	root := opts.Root
	if root == "" {
		root = "/"
	}
	return &Installer{
		fs:      opts.FS,
		reg:     opts.Registry,
		log:     log.Named("installer"),
		metrics: opts.Metrics,
		root:    root,
	}, nil
}

// Install resolves and installs each spec ("name" or "name@range"). One
// package failing does not abort the others; a malformed project manifest
// fails the whole pass before any fetch happens.
func (in *Installer) Install(ctx context.Context, specs ...string) (*Report, error) {
	started := time.Now()
	defer func() {
		if in.metrics != nil {
			in.metrics.InstallDuration.Observe(time.Since(started).Seconds())
		}
	}()

	proj, err := in.readProjectManifest()
	if err != nil {
		in.countInstall("manifest_error")
		return nil, err
	}

	report := &Report{}
	for _, spec := range specs {
		name, rng := splitSpec(spec)
		res, err := in.installOne(ctx, name, rng)
		if err != nil {
			in.log.Warn("package install failed", zap.String("package", name), zap.Error(err))
			in.countInstall("failure")
			report.Failed = append(report.Failed, Failure{Name: name, Err: err})
			continue
		}
		in.countInstall("success")
		report.Installed = append(report.Installed, *res)

		if proj.Dependencies == nil {
			proj.Dependencies = make(map[string]string)
		}
		if rng != "" {
			proj.Dependencies[name] = rng
		} else {
			proj.Dependencies[name] = "^" + res.Version
		}
	}

	if err := in.writeProjectManifest(proj); err != nil {
		return report, err
	}
	return report, nil
}

func (in *Installer) countInstall(outcome string) {
	if in.metrics != nil {
		in.metrics.InstallsTotal.WithLabelValues(outcome).Inc()
	}
}

// splitSpec separates "name@range", leaving scoped-package prefixes intact.
func splitSpec(spec string) (name, rng string) {
	at := strings.LastIndex(spec, "@")
	if at <= 0 {
		return spec, ""
	}
	return spec[:at], spec[at+1:]
}

func (in *Installer) manifestPath() string {
	return vpath.Join(in.root, "package.json")
}

// readProjectManifest loads the project manifest, synthesizing a minimal
// one when the file does not exist yet.
func (in *Installer) readProjectManifest() (*manifest.PackageJSON, error) {
	data, err := in.fs.Read(in.manifestPath())
	if vfs.IsNotFound(err) {
		return &manifest.PackageJSON{Name: "app", Version: "0.0.0"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}
	return manifest.Parse(data)
}

func (in *Installer) writeProjectManifest(p *manifest.PackageJSON) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode project manifest: %w", err)
	}
	return in.fs.Write(in.manifestPath(), data, vfs.WriteOptions{Recursive: true})
}

func (in *Installer) installOne(ctx context.Context, name, rng string) (*Result, error) {
	r, err := ParseRange(rng)
	if err != nil {
		return nil, err
	}

	meta, err := in.reg.Metadata(ctx, name)
	if err != nil {
		return nil, err
	}

	version, err := in.pickVersion(meta, r)
	if err != nil {
		return nil, err
	}
	vm := meta.Versions[version]

	var files map[string][]byte
	if vm.Dist.Tarball != "" {
		files, err = in.reg.Tarball(ctx, name, vm.Dist.Tarball)
	} else {
		files, err = in.fetchEntryFiles(ctx, name, version)
	}
	if err != nil {
		return nil, err
	}

	pkgRoot := vpath.Join(in.root, "node_modules", name)
	for rel, data := range files {
		if err := in.fs.Write(vpath.Join(pkgRoot, rel), data, vfs.WriteOptions{Recursive: true}); err != nil {
			return nil, fmt.Errorf("persist %s: %w", rel, err)
		}
	}

	bins, err := in.materializeBins(name, pkgRoot)
	if err != nil {
		return nil, err
	}

	in.log.Info("installed package",
		zap.String("package", name),
		zap.String("version", version),
		zap.Int("files", len(files)))

	return &Result{Name: name, Version: version, Files: len(files), Bins: bins}, nil
}

// pickVersion chooses the concrete version for a range: the latest dist-tag
// for unconstrained requests when present, otherwise the highest satisfying
// published version.
func (in *Installer) pickVersion(meta *registry.Metadata, r *Range) (string, error) {
	if r.kind == rangeAny {
		if latest, ok := meta.DistTags["latest"]; ok {
			if _, published := meta.Versions[latest]; published {
				return latest, nil
			}
		}
	}
	versions := make([]string, 0, len(meta.Versions))
	for v := range meta.Versions {
		versions = append(versions, v)
	}
	return highestSatisfying(versions, r)
}

// fetchEntryFiles fetches a package's manifest and every file its entry
// points name, including each literal export-map subpath target.
func (in *Installer) fetchEntryFiles(ctx context.Context, name, version string) (map[string][]byte, error) {
	raw, err := in.reg.File(ctx, name, version, "package.json")
	if err != nil {
		return nil, err
	}
	pkg, err := manifest.Parse(raw)
	if err != nil {
		return nil, err
	}

	targets := map[string]struct{}{pkg.EntryPoint(): {}}
	for _, subpath := range pkg.ExportSubpaths() {
		if target, ok := pkg.ResolveExport(subpath, nil); ok {
			targets[target] = struct{}{}
		}
	}

	files := map[string][]byte{"package.json": raw}
	for target := range targets {
		rel := strings.TrimPrefix(target, "./")
		if rel == "" {
			continue
		}
		data, err := in.reg.File(ctx, name, version, rel)
		if err != nil {
			return nil, err
		}
		files[rel] = data
	}
	return files, nil
}

// materializeBins writes a runnable stub under node_modules/.bin for each
// declared binary. The stub requires the real implementation through the
// module loader, so invoking it by name behaves like running the tool.
func (in *Installer) materializeBins(name, pkgRoot string) ([]string, error) {
	raw, err := in.fs.Read(vpath.Join(pkgRoot, "package.json"))
	if err != nil {
		return nil, nil // a package without a manifest declares no binaries
	}
	pkg, err := manifest.Parse(raw)
	if err != nil {
		return nil, err
	}
	bins, err := pkg.Binaries()
	if err != nil {
		return nil, err
	}
	if len(bins) == 0 {
		return nil, nil
	}

	binDir := vpath.Join(in.root, "node_modules", ".bin")
	names := make([]string, 0, len(bins))
	for binName, target := range bins {
		rel := strings.TrimPrefix(target, "./")
		stub := fmt.Sprintf("module.exports = require('../%s/%s');\n", name, rel)
		stubPath := vpath.Join(binDir, binName)
		if err := in.fs.Write(stubPath, []byte(stub), vfs.WriteOptions{Recursive: true, Executable: true}); err != nil {
			return nil, fmt.Errorf("write bin stub %s: %w", binName, err)
		}
		names = append(names, binName)
	}
	return names, nil
}
