// Package transform rewrites source text before execution or serving:
// module-syntax normalization to the synchronous require convention,
// templating-syntax lowering, scoped-stylesheet extraction, hot-reload
// instrumentation, and import-path redirection to the registry proxy.
//
// Every pass prefers structural analysis and falls back to a conservative
// regular-expression substitution when parsing fails. Passes are idempotent:
// re-running one on its own output is a no-op.
package transform
