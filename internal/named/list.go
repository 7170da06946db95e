// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package named implements an ordered list of entities keyed by name.
package named

// Entity is anything with a stable name.
type Entity interface {
	EntityName() string
}

// List is an ordered collection where names are unique.
//
// Setting an entity with a name that is already present replaces the old one
// and moves the entity to the end of the list. List is not safe for
// concurrent use.
type List[T Entity] struct {
	items []T
}

// NewList returns a list populated with the given entities, in order.
func NewList[T Entity](items ...T) *List[T] {
	l := &List[T]{}
	for _, it := range items {
		l.Set(it)
	}
	return l
}

// Set inserts or replaces the entity with the same name.
func (l *List[T]) Set(e T) {
	l.Remove(e.EntityName())
	l.items = append(l.items, e)
}

// Remove deletes the entity with the given name. It is a no-op if absent.
func (l *List[T]) Remove(name string) {
	for i, it := range l.items {
		if it.EntityName() == name {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return
		}
	}
}

// Get returns the entity with the given name.
func (l *List[T]) Get(name string) (T, bool) {
	for _, it := range l.items {
		if it.EntityName() == name {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Has is true if there's an entity with the given name.
func (l *List[T]) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Clear removes everything.
func (l *List[T]) Clear() {
	l.items = nil
}

// Names returns names of all entities, in list order.
func (l *List[T]) Names() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.items))
	for i, it := range l.items {
		out[i] = it.EntityName()
	}
	return out
}

// All returns a copy of the underlying slice.
func (l *List[T]) All() []T {
	if l == nil {
		return nil
	}
	return append([]T(nil), l.items...)
}

// Len is the number of entities in the list.
func (l *List[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Clone returns a shallow copy of the list.
func (l *List[T]) Clone() *List[T] {
	if l == nil {
		return &List[T]{}
	}
	return &List[T]{items: l.All()}
}
