// Package service implements the connection to the indexing backend.
//
// Overview
// The backend is reached through two independently owned services:
//   - ManagementService owns the connection and reports the backend version.
//   - DocumentService provisions the indices (schema) and submits documents.
//
// Both are constructed without any I/O. Start connects, Close releases the
// HTTP transport and is safe to call more than once, including on a service
// which was never started.
//
// Lifecycle as driven by a crawl session:
//
//	Session                ManagementService        DocumentService
//	   | Start ------------------->| GET /                 |
//	   | Start ------------------------------------------->| GET /
//	   | CreateSchema ------------------------------------>| HEAD/PUT index, folder index
//	   | (worker runs) ----------------------------------->| PUT /{index}/_doc/{id}
//	   | Close ------------------->|                       |
//	   | Close ------------------------------------------->|
//
// Elasticsearch is the only implementation. Requests fail over between the
// configured urls on transport errors; HTTP errors are returned as *ESError.
package service
