// Package domain defines the core models shared by the keyspace, the
// snapshot codecs and the persistence coordinator.
//
//   - Entry: one immutable key/value record with expiration metadata
//   - Errors: coded errors for the persistence error taxonomy
//
// Models here carry no IO dependencies.
package domain
