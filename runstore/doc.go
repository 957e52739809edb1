// Package runstore houses implementations of core.RunStore.
//
// InMemoryStore is the default used by the engine. Durable backends live in
// sub-packages (redis, mysql) so only the wiring layer depends on them.
package runstore
