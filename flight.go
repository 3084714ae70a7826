package thumb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Lease defaults.
const (
	DefaultLeaseTTL  = 30 * time.Second
	DefaultLeaseWait = 10 * time.Second
	DefaultLeasePoll = 250 * time.Millisecond
)

// Lease bounds the cross-process generation guard.
type Lease struct {
	TTL  time.Duration
	Wait time.Duration
	Poll time.Duration
}

// DefaultLease returns the default lease timings.
func DefaultLease() Lease {
	return Lease{TTL: DefaultLeaseTTL, Wait: DefaultLeaseWait, Poll: DefaultLeasePoll}
}

func (l Lease) withDefaults() Lease {
	d := DefaultLease()
	if l.TTL <= 0 {
		l.TTL = d.TTL
	}
	if l.Wait <= 0 {
		l.Wait = d.Wait
	}
	if l.Poll <= 0 {
		l.Poll = d.Poll
	}
	return l
}

// flight admits one generator per derived path. Concurrent callers in
// this process share one result; callers in other processes contend for
// a lease and, on losing, poll the disk until the winner's write lands at
// the sharded path or its flat fallback.
type flight struct {
	group  singleflight.Group
	locker Locker
	lease  Lease
	log    zerolog.Logger
}

func (f *flight) do(ctx context.Context, disk DiskProvider, diskName, target, flat string, gen func() (string, error)) (string, error) {
	v, err, _ := f.group.Do(diskName+":"+target, func() (any, error) {
		if f.locker == nil {
			return gen()
		}
		key := LeaseKey(diskName, target)
		token, ok, err := f.locker.Acquire(ctx, key, f.lease.TTL)
		if err != nil {
			f.log.Warn().Err(err).Str("path", target).Msg("lease unavailable, generating without it")
			return gen()
		}
		if !ok {
			return f.await(ctx, disk, target, flat)
		}
		defer func() {
			if err := f.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				f.log.Warn().Err(err).Str("path", target).Msg("lease release failed")
			}
		}()
		return gen()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// await polls until target or flat exists or the wait elapses.
func (f *flight) await(ctx context.Context, disk DiskProvider, target, flat string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.lease.Wait)
	defer cancel()
	ticker := time.NewTicker(f.lease.Poll)
	defer ticker.Stop()
	for {
		if exists, err := disk.Exists(ctx, target); err == nil && exists {
			return target, nil
		}
		if flat != "" && flat != target {
			if exists, err := disk.Exists(ctx, flat); err == nil && exists {
				return flat, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s", ErrInFlight, target)
		case <-ticker.C:
		}
	}
}
