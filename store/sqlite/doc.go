// Package sqlite is a pure-Go SQLite backend for authcore.
//
// A single *Store satisfies authcore.UserStore, the atomic
// authcore.LoginAttemptRecorder extension, history.Store and the audit
// sink interface, so one database file can hold users, password history,
// login attempts and the audit trail:
//
//	st, err := sqlite.Open("auth.db")
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithUserStore(st).
//		WithAuditSink(st).
//		Build()
//
// Usernames are unique case-insensitively; emails are stored lower-cased.
// Times are stored as RFC 3339 text in UTC.
package sqlite
