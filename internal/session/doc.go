// Package session coordinates a single crawl job: it validates the
// settings, prepares the job directory, selects the crawl worker, brings up
// the indexing services and drives the worker until it is closed.
//
// States
//
//	Constructed --Start--> Starting --> Running --Close--> Stopping --> Stopped
//
// New returns a Constructed session or an error, there is no partially
// constructed session. Start brings the services up in order (management,
// documents, schema) and launches the worker goroutine. Close asks the
// worker to stop, wakes it when it sleeps between passes, waits for the
// goroutine to exit and only then closes the services.
//
// Cancellation is cooperative. The worker observes its Monitor at every pass
// boundary and between files, a worker which never does so keeps Close
// waiting unless WithShutdownTimeout is used.
//
// Start and Close must not be called concurrently.
package session
