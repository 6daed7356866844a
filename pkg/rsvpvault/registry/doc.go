// Package registry provides a concurrent map that keeps insertion order.
//
// It backs the admin set of each instance, listed in grant order, and the
// factory's index of instances, listed in creation order.
//
//	r := registry.New[common.Address, struct{}]()
//	r.Add(alice, struct{}{}) // true
//	r.Add(alice, struct{}{}) // false, already present
//	r.Keys()                 // [alice]
//
// Add never overwrites, so it doubles as an insert-if-absent set. Removing a
// key and adding it again moves it to the end.
package registry
