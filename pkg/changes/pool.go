package changes

import (
	"reflect"
	"sync"
)

// slabPools holds one sync.Pool of *[]T per record type
var slabPools sync.Map // reflect.Type -> *sync.Pool

func poolFor[T any]() *sync.Pool {
	key := reflect.TypeFor[T]()
	if p, ok := slabPools.Load(key); ok {
		return p.(*sync.Pool)
	}
	p, _ := slabPools.LoadOrStore(key, &sync.Pool{
		New: func() any {
			s := make([]T, 0, 16)
			return &s
		},
	})
	return p.(*sync.Pool)
}

// getSlab returns a pooled slice holding a copy of src
func getSlab[T any](src []T) *[]T {
	s := poolFor[T]().Get().(*[]T)
	if cap(*s) < len(src) {
		*s = make([]T, 0, len(src))
	}
	*s = append((*s)[:0], src...)
	return s
}

// putSlab zeroes the slab so pooled memory holds no stale records
func putSlab[T any](s *[]T) {
	if s == nil {
		return
	}
	clear(*s)
	*s = (*s)[:0]
	poolFor[T]().Put(s)
}
