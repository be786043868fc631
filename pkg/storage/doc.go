// Package storage provides the persistence backends used by the flowgate pipeline.
//
// # Overview
//
// Relational data (memberships, subscriptions, usage counters, flows) lives in
// PostgreSQL behind row-level security and is accessed through the
// storage/postgres subpackage. This package holds the shared configuration
// and the object stores used for exported usage reports.
//
// # Object Stores
//
// ObjectStore is a small key/value blob interface with two implementations:
//
//   - S3Client: AWS S3 or any S3-compatible service (MinIO for local development)
//   - FileSystemStore: a local directory, used when no bucket is configured
//
// Keys are slash separated, e.g. reports/{tenant}/{yyyy-mm}.json.
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://flowgate@localhost/flowgate?sslmode=disable"
//	cfg.S3Bucket = "flowgate-reports"
//	store, err := storage.NewObjectStore(ctx, cfg)
//
// # Row-Level Security
//
// Every tenant-owned table carries an organization_id column and a policy of the form
//
//	USING (organization_id = current_setting('app.current_organization_id', true))
//
// The application role must not own these tables and must not have BYPASSRLS,
// otherwise the policies do not apply. See postgres/testdata/schema.sql.
package storage
