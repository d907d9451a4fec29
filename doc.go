// Package fpk is the Feature Pipeline Kit: a toolkit for building unified
// batch and streaming feature pipelines with enforced data quality and
// point-in-time-correct feature serving.
//
// The core abstractions live in this package: Sources produce RawRecords
// with resumable Cursors, Parsers conform them into typed rows, Gates apply
// declarative quality expectations, and the Ingester drives micro-batches
// through a layered table store while keeping checkpoints in lock-step with
// committed data. Sub-packages provide concrete backends: kafka, file and s3
// ingest adapters, a boltdb checkpoint store, a leveldb layered table store,
// the feature materializer, a redis online store, the scoring engine, and an
// HTTP serving layer.
package fpk
