package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/payments-engine/internal/model"
)

// RedisHistory implements History on Redis. Each entry is a hash under
// a key namespaced by the run id; both writes are single Lua scripts, so
// each is atomic on the server.
type RedisHistory struct {
	rdb   *redis.Client
	runID string
	ttl   time.Duration
}

var _ History = (*RedisHistory)(nil)

// insertScript creates the hash only when the key is absent.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'client', ARGV[1], 'kind', ARGV[2], 'amount', ARGV[3], 'state', ARGV[4])
if tonumber(ARGV[5]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

// transitionScript is a compare-and-set on the state field. A live entry
// gets its expiry pushed back.
var transitionScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// NewRedisHistory creates a Redis-backed history scoped to runID.
// A zero ttl keeps entries until Purge; a positive ttl only bounds what
// a crashed run leaves behind and must outlast the run.
func NewRedisHistory(rdb *redis.Client, runID uuid.UUID, ttl time.Duration) *RedisHistory {
	return &RedisHistory{rdb: rdb, runID: runID.String(), ttl: ttl}
}

func (h *RedisHistory) InsertIfAbsent(ctx context.Context, e model.HistoryEntry) (bool, error) {
	n, err := insertScript.Run(ctx, h.rdb, []string{h.key(e.TxID)},
		strconv.Itoa(int(e.ClientID)),
		e.Kind.String(),
		e.Amount.String(),
		e.State.String(),
		h.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("insert tx %d: %w", e.TxID, err)
	}
	return n == 1, nil
}

func (h *RedisHistory) Get(ctx context.Context, txID uint32) (model.HistoryEntry, bool, error) {
	fields, err := h.rdb.HGetAll(ctx, h.key(txID)).Result()
	if err != nil {
		return model.HistoryEntry{}, false, fmt.Errorf("get tx %d: %w", txID, err)
	}
	if len(fields) == 0 {
		return model.HistoryEntry{}, false, nil
	}

	e, err := entryFromHash(txID, fields)
	if err != nil {
		return model.HistoryEntry{}, false, fmt.Errorf("get tx %d: %w", txID, err)
	}
	return e, true, nil
}

func (h *RedisHistory) Transition(ctx context.Context, txID uint32, expected, next model.DisputeState) (bool, error) {
	n, err := transitionScript.Run(ctx, h.rdb, []string{h.key(txID)},
		expected.String(), next.String(), h.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("transition tx %d: %w", txID, err)
	}
	return n == 1, nil
}

func (h *RedisHistory) Remove(ctx context.Context, txID uint32) error {
	if err := h.rdb.Del(ctx, h.key(txID)).Err(); err != nil {
		return fmt.Errorf("remove tx %d: %w", txID, err)
	}
	return nil
}

// Purge deletes every entry of this run. Call it once the run is over.
func (h *RedisHistory) Purge(ctx context.Context) error {
	iter := h.rdb.Scan(ctx, 0, h.prefix()+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := h.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("purge run %s: %w", h.runID, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("purge run %s: %w", h.runID, err)
	}
	if len(batch) > 0 {
		if err := h.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("purge run %s: %w", h.runID, err)
		}
	}
	return nil
}

func (h *RedisHistory) prefix() string {
	return "history:" + h.runID + ":"
}

func (h *RedisHistory) key(txID uint32) string {
	return h.prefix() + strconv.FormatUint(uint64(txID), 10)
}

func entryFromHash(txID uint32, fields map[string]string) (model.HistoryEntry, error) {
	clientID, err := strconv.ParseUint(fields["client"], 10, 16)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("client: %w", err)
	}
	kind, ok := model.ParseTxType(fields["kind"])
	if !ok {
		return model.HistoryEntry{}, errors.New("kind: unknown " + fields["kind"])
	}
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("amount: %w", err)
	}
	state, err := model.ParseDisputeState(fields["state"])
	if err != nil {
		return model.HistoryEntry{}, err
	}
	return model.HistoryEntry{
		TxID:     txID,
		ClientID: uint16(clientID),
		Kind:     kind,
		Amount:   amount,
		State:    state,
	}, nil
}
