package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/bridge"
	"github.com/glassboxhq/glassbox/internal/devserver"
	"github.com/glassboxhq/glassbox/internal/infrastructure/config"
	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
	"github.com/glassboxhq/glassbox/internal/installer"
	"github.com/glassboxhq/glassbox/internal/installer/registry"
	"github.com/glassboxhq/glassbox/internal/manifest"
	"github.com/glassboxhq/glassbox/internal/runner"
	"github.com/glassboxhq/glassbox/internal/sandbox"
	"github.com/glassboxhq/glassbox/internal/seed"
	"github.com/glassboxhq/glassbox/internal/transform"
	"github.com/glassboxhq/glassbox/internal/vfs"
)

// registryPrefix is the facade route serving proxied package files; the
// transform pipeline redirects bare imports here.
const registryPrefix = "/registry"

// ServerInfo describes one virtual server for listings.
type ServerInfo struct {
	Port  int    `json:"port"`
	App   string `json:"app"`
	State string `json:"state"`
}

// Options configures a Manager.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
}

// Manager owns one workspace and everything running inside it.
type Manager struct {
	id      string
	cfg     *config.Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	fs       *vfs.FS
	runtime  *sandbox.Runtime
	pipeline *transform.Pipeline
	registry *registry.Client
	install  *installer.Installer
	runner   *runner.Runner
	bridge   *bridge.Bridge

	mu      sync.Mutex
	servers map[int]*devserver.Server
	project *config.Project
}

// NewManager constructs a workspace with a fresh filesystem.
func NewManager(opts Options) (*Manager, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}

	metrics := monitoring.NewMetrics()
	fs := vfs.New()

	m := &Manager{
		id:      uuid.New().String(),
		cfg:     cfg,
		log:     log.Named("workspace"),
		metrics: metrics,
		fs:      fs,
		servers: make(map[int]*devserver.Server),
	}

	m.pipeline = transform.New(transform.Options{
		Logger:       log,
		Metrics:      metrics,
		RegistryBase: registryPrefix,
		Dependencies: m.projectDependencies,
		HotReload:    true,
	})

	rt, err := sandbox.New(sandbox.Options{
		FS:          fs,
		Logger:      log,
		Transformer: m.pipeline,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace runtime: %w", err)
	}
	m.runtime = rt

	m.registry = registry.NewClient(registry.Options{
		BaseURL:   cfg.Registry.URL,
		Timeout:   time.Duration(cfg.Registry.TimeoutSeconds) * time.Second,
		RetryMax:  cfg.Registry.MaxRetries,
		RateLimit: cfg.Registry.RequestsPerSecond,
	})

	inst, err := installer.New(installer.Options{
		FS:       fs,
		Registry: m.registry,
		Logger:   log,
		Metrics:  metrics,
		Root:     "/",
	})
	if err != nil {
		return nil, fmt.Errorf("workspace installer: %w", err)
	}
	m.install = inst

	m.runner = runner.New(runner.Options{
		FS:          fs,
		Logger:      log,
		Transformer: m.pipeline,
	})

	m.bridge = bridge.NewBridge(bridge.Options{
		Logger:   log,
		Metrics:  metrics,
		Timeout:  time.Duration(cfg.Bridge.CorrelationTimeoutSeconds) * time.Second,
		InitWait: time.Duration(cfg.Bridge.InitWaitSeconds) * time.Second,
	})

	m.log.Info("workspace created", zap.String("id", m.id))
	return m, nil
}

// ID returns the workspace identifier.
func (m *Manager) ID() string { return m.id }

// FS returns the workspace filesystem.
func (m *Manager) FS() *vfs.FS { return m.fs }

// Runtime returns the workspace's sandboxed runtime.
func (m *Manager) Runtime() *sandbox.Runtime { return m.runtime }

// Installer returns the package installer.
func (m *Manager) Installer() *installer.Installer { return m.install }

// Runner returns the script runner.
func (m *Manager) Runner() *runner.Runner { return m.runner }

// Bridge returns the network bridge.
func (m *Manager) Bridge() *bridge.Bridge { return m.bridge }

// Metrics returns the metrics collector.
func (m *Manager) Metrics() *monitoring.Metrics { return m.metrics }

// Registry returns the package registry client.
func (m *Manager) Registry() *registry.Client { return m.registry }

// projectDependencies reads declared dependency ranges from the workspace
// manifest; missing or malformed manifests mean no pinning.
func (m *Manager) projectDependencies() map[string]string {
	data, err := m.fs.Read("/package.json")
	if err != nil {
		return nil
	}
	pkg, err := manifest.Parse(data)
	if err != nil {
		return nil
	}
	return pkg.Dependencies
}

// Seed loads an on-disk project into the workspace and picks up its
// glassbox.yaml overlay when present.
func (m *Manager) Seed(ctx context.Context, source, target string) (*seed.Result, error) {
	res, err := seed.Load(ctx, seed.Options{
		FS:     m.fs,
		Logger: m.log,
		Source: source,
		Target: target,
	})
	if err != nil {
		return nil, err
	}
	if data, rerr := m.fs.Read("/glassbox.yaml"); rerr == nil {
		project, perr := config.ParseProject(data)
		if perr != nil {
			m.log.Warn("ignoring malformed project config", zap.Error(perr))
		} else {
			m.mu.Lock()
			m.project = project
			m.mu.Unlock()
		}
	}
	return res, nil
}

// Project returns the seeded project overlay, if any.
func (m *Manager) Project() *config.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.project
}

// StartBundler starts a bundler-style server on a virtual port.
func (m *Manager) StartBundler(ctx context.Context, port int, root string) error {
	var ignore []string
	if p := m.Project(); p != nil {
		ignore = p.Ignore
	}
	b, err := devserver.NewBundler(devserver.BundlerOptions{
		FS:          m.fs,
		Pipeline:    m.pipeline,
		Resolver:    m.runtime,
		Logger:      m.log,
		Metrics:     m.metrics,
		Root:        root,
		WatchIgnore: ignore,
	})
	if err != nil {
		return err
	}
	return m.startServer(ctx, port, b)
}

// StartApp starts a file-system-routed application server on a virtual
// port.
func (m *Manager) StartApp(ctx context.Context, port int, appDir string) error {
	prefix := ""
	if p := m.Project(); p != nil {
		prefix = p.AssetPrefix
	}
	a, err := devserver.NewAppServer(devserver.AppServerOptions{
		FS:          m.fs,
		Runtime:     m.runtime,
		Logger:      m.log,
		Metrics:     m.metrics,
		AppDir:      appDir,
		AssetPrefix: prefix,
	})
	if err != nil {
		return err
	}
	return m.startServer(ctx, port, a)
}

// startServer registers the port first so two servers can never race onto
// the same port, then brings the instance up.
func (m *Manager) startServer(ctx context.Context, port int, application devserver.App) error {
	srv := devserver.NewServer(application, port, m.log, m.metrics)
	if err := m.bridge.Ports().Register(port, srv); err != nil {
		return err
	}

	m.mu.Lock()
	m.servers[port] = srv
	m.mu.Unlock()

	if err := srv.Start(ctx); err != nil {
		m.bridge.Ports().Unregister(port)
		m.mu.Lock()
		delete(m.servers, port)
		m.mu.Unlock()
		return err
	}
	return nil
}

// StopServer stops the server on port and releases its registration.
func (m *Manager) StopServer(ctx context.Context, port int) error {
	m.mu.Lock()
	srv, ok := m.servers[port]
	if ok {
		delete(m.servers, port)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no server on port %d", port)
	}
	m.bridge.Ports().Unregister(port)
	return srv.Stop(ctx)
}

// RestartServer fully restarts the server on port.
func (m *Manager) RestartServer(ctx context.Context, port int) error {
	m.mu.Lock()
	srv, ok := m.servers[port]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no server on port %d", port)
	}
	return srv.Restart(ctx)
}

// Server returns the lifecycle wrapper on port.
func (m *Manager) Server(port int) (*devserver.Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.servers[port]
	return srv, ok
}

// Servers lists running servers ordered by port.
func (m *Manager) Servers() []ServerInfo {
	m.mu.Lock()
	infos := make([]ServerInfo, 0, len(m.servers))
	for port, srv := range m.servers {
		infos = append(infos, ServerInfo{Port: port, App: srv.App().Name(), State: srv.State().String()})
	}
	m.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Port < infos[j].Port })
	return infos
}

// SubscribeUpdates attaches to the hot-update stream of the bundler on
// port.
func (m *Manager) SubscribeUpdates(port int) (<-chan devserver.Update, func(), error) {
	m.mu.Lock()
	srv, ok := m.servers[port]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("no server on port %d", port)
	}
	b, ok := srv.App().(*devserver.Bundler)
	if !ok {
		return nil, nil, fmt.Errorf("server on port %d does not publish updates", port)
	}
	ch, cancel := b.Subscribe()
	return ch, cancel, nil
}

// Close stops every server and tears down the bridge.
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	servers := make([]*devserver.Server, 0, len(m.servers))
	for _, srv := range m.servers {
		servers = append(servers, srv)
	}
	m.servers = make(map[int]*devserver.Server)
	m.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		m.bridge.Ports().Unregister(srv.Port())
		if err := srv.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.runtime.Close()
	m.bridge.Close()
	m.log.Info("workspace closed", zap.String("id", m.id))
	return firstErr
}
