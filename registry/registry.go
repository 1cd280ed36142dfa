// Package registry tracks live objects grouped by tag and notifies
// subscribers as objects come and go.
package registry

import (
	"slices"

	"facette.io/natsort"
)

// Tagged objects are grouped under the string returned by Tag when they are
// added. Later changes to the tag do not move them.
type Tagged interface {
	comparable
	Tag() string
}

type subscription[T Tagged] struct {
	id        uint64
	tag       string
	onAdded   func(T)
	onRemoved func(T)
}

// Registry holds objects in insertion order per tag. It must only be used
// from the event loop.
type Registry[T Tagged] struct {
	objects map[string][]T
	tags    map[T]string
	subs    []*subscription[T]
	nextID  uint64
}

// New creates an empty registry.
func New[T Tagged]() *Registry[T] {
	return &Registry[T]{objects: map[string][]T{}, tags: map[T]string{}}
}

// Add inserts obj and notifies the subscribers of its tag. Adding an object
// twice is a no-op.
func (r *Registry[T]) Add(obj T) {
	if _, ok := r.tags[obj]; ok {
		return
	}

	tag := obj.Tag()
	r.tags[obj] = tag
	r.objects[tag] = append(r.objects[tag], obj)

	for _, s := range r.matching(tag) {
		if s.onAdded != nil {
			s.onAdded(obj)
		}
	}
}

// Remove deletes obj from the tag it was added under. Subscribers of that tag
// are notified after it is gone, so enumerating from a callback no longer
// yields it.
func (r *Registry[T]) Remove(obj T) bool {
	tag, ok := r.tags[obj]
	if !ok {
		return false
	}

	delete(r.tags, obj)

	idx := slices.Index(r.objects[tag], obj)
	r.objects[tag] = slices.Delete(r.objects[tag], idx, idx+1)
	if len(r.objects[tag]) == 0 {
		delete(r.objects, tag)
	}

	for _, s := range r.matching(tag) {
		if s.onRemoved != nil {
			s.onRemoved(obj)
		}
	}

	return true
}

// TagOf returns the tag obj was added under.
func (r *Registry[T]) TagOf(obj T) (string, bool) {
	tag, ok := r.tags[obj]

	return tag, ok
}

// Objects returns the objects tagged tag in the order they were added.
func (r *Registry[T]) Objects(tag string) []T {
	return slices.Clone(r.objects[tag])
}

// Len returns the number of objects under tag.
func (r *Registry[T]) Len(tag string) int {
	return len(r.objects[tag])
}

// Tags returns every tag with at least one object, in natural order.
func (r *Registry[T]) Tags() []string {
	out := make([]string, 0, len(r.objects))
	for tag := range r.objects {
		out = append(out, tag)
	}

	natsort.Sort(out)

	return out
}

// Subscribe registers callbacks for objects added to or removed from tag.
// Either may be nil. The returned function cancels the subscription.
func (r *Registry[T]) Subscribe(tag string, onAdded, onRemoved func(T)) func() {
	r.nextID++
	id := r.nextID

	r.subs = append(r.subs, &subscription[T]{
		id:        id,
		tag:       tag,
		onAdded:   onAdded,
		onRemoved: onRemoved,
	})

	return func() {
		r.subs = slices.DeleteFunc(r.subs, func(s *subscription[T]) bool {
			return s.id == id
		})
	}
}

// matching snapshots the subscriptions for tag so callbacks may subscribe or
// unsubscribe.
func (r *Registry[T]) matching(tag string) []*subscription[T] {
	var out []*subscription[T]

	for _, s := range r.subs {
		if s.tag == tag {
			out = append(out, s)
		}
	}

	return out
}
