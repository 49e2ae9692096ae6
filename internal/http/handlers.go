package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/app"
	"github.com/glassboxhq/glassbox/internal/devserver"
	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/runner"
	"github.com/glassboxhq/glassbox/internal/vfs"
)

// Handlers exposes the workspace over HTTP.
type Handlers struct {
	manager *app.Manager
	log     *logging.Logger
}

// NewHandlers creates a handler set over one workspace.
func NewHandlers(manager *app.Manager, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{manager: manager, log: log.Named("http")}
}

// Root handles the liveness check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "glassbox",
		"version": "0.3.0",
	})
}

// Health reports workspace state.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"workspace": h.manager.ID(),
		"servers":   h.manager.Servers(),
		"bridge": gin.H{
			"established": h.manager.Bridge().Established(),
			"pending":     h.manager.Bridge().Table().Pending(),
		},
	})
}

// ReadFile returns file contents.
func (h *Handlers) ReadFile(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}
	data, err := h.manager.FS().Read(path)
	if err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "content": string(data)})
}

// WriteFile creates or replaces a file, creating parents as needed.
func (h *Handlers) WriteFile(c *gin.Context) {
	var req struct {
		Path       string `json:"path" binding:"required"`
		Content    string `json:"content"`
		Executable bool   `json:"executable"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.manager.FS().Write(req.Path, []byte(req.Content), vfs.WriteOptions{
		Recursive:  true,
		Executable: req.Executable,
	})
	if err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": req.Path})
}

// ListDir lists directory entries.
func (h *Handlers) ListDir(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		path = "/"
	}
	entries, err := h.manager.FS().Readdir(path)
	if err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "entries": entries})
}

// StatFile returns file metadata.
func (h *Handlers) StatFile(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}
	info, err := h.manager.FS().Stat(path)
	if err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Mkdir creates a directory.
func (h *Handlers) Mkdir(c *gin.Context) {
	var req struct {
		Path      string `json:"path" binding:"required"`
		Recursive bool   `json:"recursive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.FS().Mkdir(req.Path, req.Recursive); err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": req.Path})
}

// Remove deletes a file or directory.
func (h *Handlers) Remove(c *gin.Context) {
	var req struct {
		Path      string `json:"path" binding:"required"`
		Recursive bool   `json:"recursive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.FS().Rm(req.Path, vfs.RemoveOptions{Recursive: req.Recursive}); err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": req.Path})
}

// Rename moves a file or directory.
func (h *Handlers) Rename(c *gin.Context) {
	var req struct {
		From string `json:"from" binding:"required"`
		To   string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.FS().Rename(req.From, req.To); err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "from": req.From, "to": req.To})
}

// Install resolves and installs packages into the workspace.
func (h *Handlers) Install(c *gin.Context) {
	var req struct {
		Packages []string `json:"packages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.manager.Installer().Install(c.Request.Context(), req.Packages...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if len(report.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{
		"installed": report.Installed,
		"failed":    report.Failed,
	})
}

// RegistryFile proxies one package file from the upstream registry. The
// transform pipeline points redirected bare imports at this route.
func (h *Handlers) RegistryFile(c *gin.Context) {
	name, version, file, err := splitRegistrySpec(c.Param("spec"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := h.manager.Registry().File(c.Request.Context(), name, version, file)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, registryContentType(file), data)
}

// ListScripts lists the manifest's scripts.
func (h *Handlers) ListScripts(c *gin.Context) {
	scripts, err := h.manager.Runner().Scripts()
	if err != nil {
		fsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scripts": scripts})
}

// RunScript executes a manifest script with its lifecycle stages.
func (h *Handlers) RunScript(c *gin.Context) {
	name := c.Param("name")
	var req struct {
		Args []string `json:"args"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.manager.Runner().Run(c.Request.Context(), name, req.Args)
	if err != nil {
		var missing *runner.MissingScriptError
		if errors.As(err, &missing) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":     missing.Error(),
				"available": missing.Available,
			})
			return
		}
		// Stage failures still carry the per-stage record.
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListServers lists virtual servers.
func (h *Handlers) ListServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.manager.Servers()})
}

// StartServer starts a bundler or app server on a virtual port.
func (h *Handlers) StartServer(c *gin.Context) {
	var req struct {
		Kind string `json:"kind" binding:"required"`
		Port int    `json:"port" binding:"required"`
		Root string `json:"root"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "port out of range"})
		return
	}

	var err error
	switch req.Kind {
	case "bundler":
		err = h.manager.StartBundler(c.Request.Context(), req.Port, req.Root)
	case "app":
		err = h.manager.StartApp(c.Request.Context(), req.Port, req.Root)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be bundler or app"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "port": req.Port, "kind": req.Kind})
}

// StopServer stops the server on a port.
func (h *Handlers) StopServer(c *gin.Context) {
	port, ok := requirePort(c)
	if !ok {
		return
	}
	if err := h.manager.StopServer(c.Request.Context(), port); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "port": port})
}

// RestartServer restarts the server on a port.
func (h *Handlers) RestartServer(c *gin.Context) {
	port, ok := requirePort(c)
	if !ok {
		return
	}
	if err := h.manager.RestartServer(c.Request.Context(), port); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "port": port})
}

// Virtual dispatches a request addressed to a virtual port, for clients
// talking plain HTTP instead of the bridge.
func (h *Handlers) Virtual(c *gin.Context) {
	port, ok := requirePort(c)
	if !ok {
		return
	}
	srv, found := h.manager.Server(port)
	if !found {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no server on port"})
		return
	}

	req, err := virtualRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := srv.Handle(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, devserver.ErrStarting) {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	for k, v := range res.Headers {
		c.Header(k, v)
	}
	c.Data(res.Status, res.Headers["Content-Type"], res.Body)
}

// Seed loads an on-disk project into the workspace.
func (h *Handlers) Seed(c *gin.Context) {
	var req struct {
		Source string `json:"source" binding:"required"`
		Target string `json:"target"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.manager.Seed(c.Request.Context(), req.Source, req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"files":   res.Files,
		"skipped": res.Skipped,
		"bytes":   res.Bytes,
	})
}

var updatesUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Updates streams hot-reload notifications for a bundler port over a
// websocket until the client disconnects.
func (h *Handlers) Updates(c *gin.Context) {
	port, ok := requirePort(c)
	if !ok {
		return
	}
	updates, cancel, err := h.manager.SubscribeUpdates(port)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := updatesUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		h.log.Warn("updates upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer cancel()

	// Drain the client side so close frames are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, open := <-updates:
			if !open {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func requirePath(c *gin.Context) (string, bool) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return "", false
	}
	return path, true
}

func fsError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch vfs.CodeOf(err) {
	case vfs.CodeNotFound:
		status = http.StatusNotFound
	case vfs.CodeExists, vfs.CodeNotDir, vfs.CodeIsDir, vfs.CodeNotEmpty:
		status = http.StatusConflict
	case vfs.CodeInvalid:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
