// Package main hosts the pagecounter entrypoint.
//
// Architecture overview:
//   - Entrypoint: cmd builds the cobra root command. Without flags the process consumes the workqueue; with --queue
//     it clears pending items, enqueues the seed list and exits. Unknown flags and positional arguments are ignored
//     so orchestrator-injected parameters never abort a run.
//   - Workqueue: internal/workqueue models items and owns the per-item lifecycle (every claimed item ends completed
//     or failed exactly once). Backends: the Automation Server REST API (ats), Postgres (postgres) and an
//     in-process queue (memory).
//   - Browser: internal/browser defines a page contract implemented by chromedp (default) and playwright. One
//     browser and one page are reused for the whole run.
//   - Processing: internal/processor navigates to each URL, counts <img> elements and <a> elements with a non-empty
//     href, writes the counts back and records failures with hrefcount -1. internal/pacing pauses a random
//     10-40 s after every item.
//   - Configuration & plumbing: Viper populates config from files and env (PAGECOUNTER_* plus the orchestrator's
//     ATS_* variables); zap provides structured logging; Prometheus metrics are served on an optional chi endpoint
//     and pushed to a Pushgateway at exit when configured. OpenTelemetry can trace each item to stdout.
//
// Quick checklist:
//   - Configure env vars: ATS_URL, ATS_TOKEN and ATS_WORKQUEUE (or ATS_PROCESS), or PAGECOUNTER_QUEUE_BACKEND=memory
//     or postgres with PAGECOUNTER_POSTGRES_DSN.
//   - Seed: go run . --queue
//   - Consume: go run . (add --config config.yaml for file based settings).
package main
