package fingerprint

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Index is the set of fingerprints held by accepted submissions.
type Index interface {
	// Claim atomically checks fp against every stored print of the same kind
	// and stores it when none is within threshold. duplicate is true when a
	// near match already exists, in which case nothing is stored.
	Claim(ctx context.Context, fp Fingerprint, threshold int) (duplicate bool, err error)
	// Release forgets fp, e.g. after the submission holding it was rejected.
	Release(ctx context.Context, fp Fingerprint) error
}

var (
	_ Index = (*MemoryIndex)(nil)
	_ Index = (*RedisIndex)(nil)
)

type MemoryIndex struct {
	mu     sync.Mutex
	prints map[string]map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{prints: make(map[string]map[string]struct{})}
}

func (ix *MemoryIndex) Claim(_ context.Context, fp Fingerprint, threshold int) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set, ok := ix.prints[fp.Kind]
	if !ok {
		set = make(map[string]struct{})
		ix.prints[fp.Kind] = set
	}
	if _, exact := set[fp.Value]; exact {
		return true, nil
	}
	for existing := range set {
		if Distance(existing, fp.Value) < threshold {
			return true, nil
		}
	}
	set[fp.Value] = struct{}{}
	return false, nil
}

func (ix *MemoryIndex) Release(_ context.Context, fp Fingerprint) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.prints[fp.Kind], fp.Value)
	return nil
}

// claimScript scans the set for a print within ARGV[2] positions of ARGV[1]
// and adds ARGV[1] when there is none. Returns 1 on duplicate.
var claimScript = redis.NewScript(`
local fp = ARGV[1]
local threshold = tonumber(ARGV[2])
if redis.call("SISMEMBER", KEYS[1], fp) == 1 then
    return 1
end
local n = string.len(fp)
for _, m in ipairs(redis.call("SMEMBERS", KEYS[1])) do
    local d = 0
    if string.len(m) ~= n then
        d = math.max(string.len(m), n)
    else
        for i = 1, n do
            if string.byte(m, i) ~= string.byte(fp, i) then
                d = d + 1
            end
        end
    end
    if d < threshold then
        return 1
    end
end
redis.call("SADD", KEYS[1], fp)
return 0
`)

// RedisIndex keeps one set per fingerprint kind so every server instance
// shares the same duplicate view.
type RedisIndex struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisIndex(rdb *redis.Client, prefix string) *RedisIndex {
	return &RedisIndex{rdb: rdb, prefix: prefix}
}

func (ix *RedisIndex) key(kind string) string { return ix.prefix + kind }

func (ix *RedisIndex) Claim(ctx context.Context, fp Fingerprint, threshold int) (bool, error) {
	res, err := claimScript.Run(ctx, ix.rdb, []string{ix.key(fp.Kind)}, fp.Value, threshold).Int64()
	if err != nil {
		return false, fmt.Errorf("fingerprint claim: %w", err)
	}
	return res == 1, nil
}

func (ix *RedisIndex) Release(ctx context.Context, fp Fingerprint) error {
	if err := ix.rdb.SRem(ctx, ix.key(fp.Kind), fp.Value).Err(); err != nil {
		return fmt.Errorf("fingerprint release: %w", err)
	}
	return nil
}

// Warm loads the prints of previously accepted submissions into ix. Values
// already present are left alone.
func Warm(ctx context.Context, ix Index, kind string, values []string) (int, error) {
	added := 0
	for _, v := range values {
		dup, err := ix.Claim(ctx, Fingerprint{Kind: kind, Value: v}, 0)
		if err != nil {
			return added, err
		}
		if !dup {
			added++
		}
	}
	return added, nil
}
