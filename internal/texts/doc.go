// Package texts is the message catalog for every user-facing string.
//
// The default catalog is embedded from default.toml. A deployment can point
// desk.texts_path at its own TOML file; keys present there override the
// defaults and everything else falls back. Messages are addressed by dotted
// keys such as "registration.phone", and action labels by action id.
package texts
