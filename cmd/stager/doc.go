// Package main hosts the stager entrypoint.
//
// Architecture overview:
//   - Input: page documents produced by the documentation crawler, read from files, stdin or gs:// objects
//     (internal/source), plus an index definition with settings, query rules and synonyms (internal/indexdef).
//   - Post-processing: internal/rules resolves the record settings once at startup; internal/transform rewrites hosts,
//     derives paths, adds pagerank and strips attributes; internal/sizing drops records over the byte ceiling.
//   - Staging: internal/staging.Coordinator prepares <index>_tmp from the live index, uploads records in fixed-size
//     chunks (internal/batch) and synonyms, then moves the temporary index over the live one. A failed write marks the
//     run failed and promotion is refused.
//   - Backends: Algolia for production, bleve for local runs, in-memory for dry runs (internal/index/...).
//   - Operational support: run ledger (memory/SQLite/Postgres), zstd chunk archive (memory/local/GCS), Pub/Sub
//     promotion events, Prometheus metrics and a status API on server.port.
//
// Quick checklist:
//   - Configure env vars: INDEX_NAME, APPLICATION_ID, API_KEY, SCRAPER_PAGERANK_RULES, SCRAPER_REMOVE_ATTRIBUTES,
//     OVERRIDE_HOST, LOCALSERVER_HOST, LOCALSERVER_URL, SCRAPER_MAX_RECORD_BYTES, SHOW_RECORDS, or their STAGER_*
//     equivalents.
//   - Check: go run ./cmd/stager check --config config.yaml
//   - Run locally: go run ./cmd/stager run --config config.yaml --definition index.yaml --pages pages.ndjson --dry-run
package main
