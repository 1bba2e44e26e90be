// Package journal persists a diagnostic record of bus traffic: value
// events as they are published and commands as they are resolved.
//
// The journal is write-mostly. Nothing in the bridge reads it back at
// startup; the read side exists only for the HTTP API's history
// endpoints. Failed writes are logged and dropped so the event path
// never blocks on the database.
package journal
