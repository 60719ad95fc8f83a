package docstore

import (
	"context"
	"sync"
)

// DenyFirst wraps a Store and fails the first n operations per method with
// ErrPermissionDenied. It simulates the window right after sign-in during
// which server-side auth rules have not propagated yet.
type DenyFirst struct {
	Inner Store

	mu          sync.Mutex
	getDenies   int
	setDenies   int
	watchDenies int
}

// NewDenyFirst wraps inner so the first n Get, Set and Watch calls each
// return ErrPermissionDenied.
func NewDenyFirst(inner Store, n int) *DenyFirst {
	return &DenyFirst{
		Inner:       inner,
		getDenies:   n,
		setDenies:   n,
		watchDenies: n,
	}
}

func (d *DenyFirst) Get(ctx context.Context, collection, id string) ([]byte, error) {
	d.mu.Lock()
	deny := d.getDenies > 0
	if deny {
		d.getDenies--
	}
	d.mu.Unlock()

	if deny {
		return nil, ErrPermissionDenied
	}
	return d.Inner.Get(ctx, collection, id)
}

func (d *DenyFirst) Set(ctx context.Context, collection, id string, data []byte) error {
	d.mu.Lock()
	deny := d.setDenies > 0
	if deny {
		d.setDenies--
	}
	d.mu.Unlock()

	if deny {
		return ErrPermissionDenied
	}
	return d.Inner.Set(ctx, collection, id, data)
}

func (d *DenyFirst) Watch(ctx context.Context, collection, id string) (<-chan []byte, func(), error) {
	d.mu.Lock()
	deny := d.watchDenies > 0
	if deny {
		d.watchDenies--
	}
	d.mu.Unlock()

	if deny {
		return nil, nil, ErrPermissionDenied
	}
	return d.Inner.Watch(ctx, collection, id)
}
