// Package http provides the Gin handlers for the workspace REST API.
//
// Endpoints:
//   - Health: / and /health
//   - Files: /fs/read, /fs/write, /fs/list, /fs/stat, /fs/mkdir, /fs/rm, /fs/rename
//   - Packages: /packages/install, /registry/*spec (proxy)
//   - Scripts: /scripts, /scripts/:name/run
//   - Servers: /servers, /servers/:port, /servers/:port/restart
//   - Virtual dispatch: /~/:port/*path
//   - Project: /seed
//   - Hot reload: /updates/:port (websocket)
package http
