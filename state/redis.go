package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

// RedisMirror keeps latest values and capped history lists in Redis so that
// other processes can read orchestrator state.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func reportKey(id string) string  { return fmt.Sprintf("riot2:report:%s", id) }
func commandKey(id string) string { return fmt.Sprintf("riot2:command:%s", id) }
func historyKey(id string) string { return fmt.Sprintf("riot2:history:%s", id) }

const historyIDsKey = "riot2:history"

func (m *RedisMirror) SetReport(ctx context.Context, r model.Report, history bool, maxEntries int) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := m.client.Pipeline()
	pipe.Set(ctx, reportKey(r.ID), data, 0)
	if history {
		m.pushHistory(ctx, pipe, r.ID, Entry{Value: r.Value, Filter: r.Filter, TimeStamp: r.TimeStamp}, maxEntries)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) SetCommand(ctx context.Context, c model.Command, history bool, maxEntries int) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	pipe := m.client.Pipeline()
	pipe.Set(ctx, commandKey(c.ID), data, 0)
	if history {
		m.pushHistory(ctx, pipe, c.ID, Entry{Value: c.Value, TimeStamp: time.Now().UTC()}, maxEntries)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) pushHistory(ctx context.Context, pipe redis.Pipeliner, id string, e Entry, maxEntries int) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	pipe.LPush(ctx, historyKey(id), data)
	if maxEntries > 0 {
		pipe.LTrim(ctx, historyKey(id), 0, int64(maxEntries-1))
	}
	pipe.SAdd(ctx, historyIDsKey, id)
}

// History reads up to count mirrored entries for id, newest first.
func (m *RedisMirror) History(ctx context.Context, id string, count int) ([]Entry, error) {
	stop := int64(-1)
	if count > 0 {
		stop = int64(count - 1)
	}
	raw, err := m.client.LRange(ctx, historyKey(id), 0, stop).Result()
	if err == redis.Nil {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, s := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *RedisMirror) ResetHistory(ctx context.Context) error {
	ids, err := m.client.SMembers(ctx, historyIDsKey).Result()
	if err != nil {
		return err
	}
	pipe := m.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, historyKey(id))
	}
	pipe.Del(ctx, historyIDsKey)
	_, err = pipe.Exec(ctx)
	return err
}
