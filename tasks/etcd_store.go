package tasks

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultEtcdPrefix is the key prefix used when none is configured.
const DefaultEtcdPrefix = "/remoteobj/tasks"

// EtcdStore keeps tasks in etcd v3:
//
//	Key:   {prefix}/task/{id}   Value: JSON-encoded Task
//	Key:   {prefix}/last-id     Value: decimal id of the last task created
//
// Ids are allocated with a compare-and-swap on the last-id key, so services
// sharing a prefix never hand out the same id.
type EtcdStore struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
}

// NewEtcdStore connects to the given etcd endpoints. A blank prefix means
// DefaultEtcdPrefix.
func NewEtcdStore(endpoints []string, prefix string, dialTimeout time.Duration) (*EtcdStore, error) {
	if len(endpoints) == 0 {
		return nil, errors.NotValidf("empty etcd endpoint list")
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Annotate(err, "connecting to etcd")
	}
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdStore{client: c, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (s *EtcdStore) taskKey(id int) string {
	return s.prefix + "/task/" + strconv.Itoa(id)
}

func (s *EtcdStore) NextID(ctx context.Context) (int, error) {
	key := s.prefix + "/last-id"
	for {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return 0, errors.Trace(err)
		}
		last, rev := 0, int64(0)
		if len(resp.Kvs) == 1 {
			kv := resp.Kvs[0]
			if last, err = strconv.Atoi(string(kv.Value)); err != nil {
				return 0, errors.Annotatef(err, "corrupt %s", key)
			}
			rev = kv.ModRevision
		}

		// ModRevision 0 means the key does not exist yet.
		next := last + 1
		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, strconv.Itoa(next))).
			Commit()
		if err != nil {
			return 0, errors.Trace(err)
		}
		if txn.Succeeded {
			return next, nil
		}
	}
}

func (s *EtcdStore) Get(ctx context.Context, id int) (Task, bool, error) {
	resp, err := s.client.Get(ctx, s.taskKey(id))
	if err != nil {
		return Task{}, false, errors.Trace(err)
	}
	if len(resp.Kvs) == 0 {
		return Task{}, false, nil
	}
	var t Task
	if err := json.Unmarshal(resp.Kvs[0].Value, &t); err != nil {
		return Task{}, false, errors.Annotatef(err, "decoding task %d", id)
	}
	return t, true, nil
}

func (s *EtcdStore) Put(ctx context.Context, t Task) error {
	val, err := json.Marshal(t)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = s.client.Put(ctx, s.taskKey(t.ID), string(val))
	return errors.Trace(err)
}

func (s *EtcdStore) List(ctx context.Context) ([]Task, error) {
	resp, err := s.client.Get(ctx, s.prefix+"/task/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]Task, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var t Task
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			continue // skip malformed entries
		}
		out = append(out, t)
	}
	// Keys sort as strings, so "10" comes before "2".
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Clear deletes every key under the store's prefix.
func (s *EtcdStore) Clear(ctx context.Context) error {
	_, err := s.client.Delete(ctx, s.prefix+"/", clientv3.WithPrefix())
	return errors.Trace(err)
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
