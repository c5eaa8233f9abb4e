// Package ganymed implements the binary packet protocol of a secure
// remote-shell transport: the layer that turns an authenticated, optionally
// encrypted and compressed byte stream into discrete messages and back.
//
// The transport package contains the packet engine. The cipher, mac and
// compression packages provide the pluggable primitives it drives. Key
// exchange, algorithm negotiation, authentication and channel logic belong to
// the layers above and are not part of this module.
package ganymed
