// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the reactor, transport
// and TLS engine contracts, driven step by step from tests.
package fake
