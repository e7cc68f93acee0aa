package tasks_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"remoteobj/client"
	"remoteobj/codec"
	"remoteobj/config"
	"remoteobj/remote"
	"remoteobj/server"
	"remoteobj/tasks"
	"remoteobj/transport"
)

func TestParseStatus(t *testing.T) {
	c := qt.New(t)
	for in, want := range map[string]tasks.Status{
		"OPEN":        tasks.StatusOpen,
		"open":        tasks.StatusOpen,
		"Closed":      tasks.StatusClosed,
		"in_progress": tasks.StatusInProgress,
		"whatever":    tasks.StatusInProgress,
		"":            tasks.StatusInProgress,
	} {
		c.Check(tasks.ParseStatus(in), qt.Equals, want, qt.Commentf("input %q", in))
	}
}

func TestManagerIsRemoteInterface(t *testing.T) {
	c := qt.New(t)
	desc, err := remote.Describe(remote.TypeOf[tasks.Manager]())
	c.Assert(err, qt.IsNil)

	var sigs []string
	for _, m := range desc.Methods() {
		sigs = append(sigs, m.Signature())
	}
	c.Assert(sigs, qt.DeepEquals, []string{
		"AssignTask(int,string)",
		"AssignedTasks(string)[]tasks.Task",
		"CreateTask(string,string)int",
		"UpdateStatus(int,tasks.Status)",
	})
}

// exerciseManager runs the same scenario against any Manager.
func exerciseManager(c *qt.C, m tasks.Manager) {
	ctx := context.Background()

	id1, err := m.CreateTask(ctx, "write docs", "the README")
	c.Assert(err, qt.IsNil)
	c.Assert(id1, qt.Equals, 1)
	id2, err := m.CreateTask(ctx, "fix bug", "")
	c.Assert(err, qt.IsNil)
	c.Assert(id2, qt.Equals, 2)
	id3, err := m.CreateTask(ctx, "review", "PR 7")
	c.Assert(err, qt.IsNil)
	c.Assert(id3, qt.Equals, 3)

	c.Assert(m.AssignTask(ctx, id1, "ada"), qt.IsNil)
	c.Assert(m.AssignTask(ctx, id3, "ada"), qt.IsNil)
	c.Assert(m.AssignTask(ctx, id2, "bob"), qt.IsNil)
	c.Assert(m.UpdateStatus(ctx, id3, tasks.StatusClosed), qt.IsNil)

	got, err := m.AssignedTasks(ctx, "ada")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []tasks.Task{
		{ID: 1, Title: "write docs", Description: "the README", Status: tasks.StatusOpen, Assignee: "ada"},
		{ID: 3, Title: "review", Description: "PR 7", Status: tasks.StatusClosed, Assignee: "ada"},
	})

	got, err = m.AssignedTasks(ctx, "nobody")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)

	err = m.AssignTask(ctx, 42, "ada")
	var nf *tasks.NotFoundError
	c.Assert(errors.As(err, &nf), qt.IsTrue)
	c.Assert(nf.ID, qt.Equals, 42)
	c.Assert(err, qt.ErrorMatches, "task 42 not found")

	err = m.UpdateStatus(ctx, 0, tasks.StatusOpen)
	c.Assert(errors.As(err, &nf), qt.IsTrue)
	c.Assert(nf.ID, qt.Equals, 0)
}

func TestExecutorMemory(t *testing.T) {
	c := qt.New(t)
	exerciseManager(c, tasks.NewExecutor(tasks.NewMemoryStore(), zap.NewNop()))
}

func TestMemoryStoreListIsOrdered(t *testing.T) {
	c := qt.New(t)
	s := tasks.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []int{10, 2, 7} {
		c.Assert(s.Put(ctx, tasks.Task{ID: id}), qt.IsNil)
	}
	all, err := s.List(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 3)
	c.Assert([]int{all[0].ID, all[1].ID, all[2].ID}, qt.DeepEquals, []int{2, 7, 10})
}

func TestTaskString(t *testing.T) {
	c := qt.New(t)
	s := tasks.Task{ID: 3, Title: "t", Status: tasks.StatusOpen, Assignee: "ada"}.String()
	c.Assert(s, qt.Equals, `Task{id=3, title="t", description="", status=OPEN, assignee="ada"}`)
}

func startManager(c *qt.C, store tasks.Store, opts ...server.Option) string {
	opts = append([]server.Option{server.WithHost("127.0.0.1"), server.WithLogger(zap.NewNop())}, opts...)
	svc, err := server.NewService[tasks.Manager](tasks.NewExecutor(store, zap.NewNop()), 0, opts...)
	c.Assert(err, qt.IsNil)
	c.Assert(svc.Start(), qt.IsNil)
	c.Cleanup(svc.Stop)
	return svc.Addr().String()
}

func newManagerStub(c *qt.C, addr string, opts ...client.Option) tasks.Manager {
	opts = append([]client.Option{client.WithLogger(zap.NewNop()), client.WithBackoff(time.Millisecond)}, opts...)
	stub, err := client.NewStub[tasks.Manager](addr, opts...)
	c.Assert(err, qt.IsNil)
	return tasks.NewManagerStub(stub)
}

func TestRemoteManager(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeCBOR} {
		t.Run(ct.String(), func(t *testing.T) {
			c := qt.New(t)
			addr := startManager(c, tasks.NewMemoryStore())
			exerciseManager(c, newManagerStub(c, addr, client.WithCodec(ct)))
		})
	}
}

func TestRemoteManagerConcurrentClients(t *testing.T) {
	c := qt.New(t)
	addr := startManager(c, tasks.NewMemoryStore())

	const clients, perClient = 3, 10
	var wg sync.WaitGroup
	ids := make(chan int, clients*perClient)
	for i := 0; i < clients; i++ {
		m := newManagerStub(c, addr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				id, err := m.CreateTask(context.Background(), "t", "")
				if err != nil {
					c.Errorf("CreateTask: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		c.Assert(seen[id], qt.IsFalse, qt.Commentf("id %d handed out twice", id))
		seen[id] = true
	}
	c.Assert(seen, qt.HasLen, clients*perClient)
	for id := 1; id <= clients*perClient; id++ {
		c.Assert(seen[id], qt.IsTrue)
	}
}

func TestRemoteManagerLossy(t *testing.T) {
	c := qt.New(t)
	addr := startManager(c, tasks.NewMemoryStore(), server.WithTransport(transport.Options{
		Lossy: true,
		Loss:  transport.EveryNth(5),
	}))
	m := newManagerStub(c, addr, client.WithTransport(transport.Options{
		Lossy:       true,
		Loss:        transport.EveryNth(4),
		ReadTimeout: 200 * time.Millisecond,
	}))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := m.CreateTask(ctx, "t", "")
		c.Assert(err, qt.IsNil)
	}
	// Lost responses are retried, so a create may run twice; every task
	// still gets a distinct id.
	c.Assert(m.AssignTask(ctx, 1, "ada"), qt.IsNil)
	got, err := m.AssignedTasks(ctx, "ada")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 1)
	c.Assert(got[0].ID, qt.Equals, 1)
}

func etcdEndpoints(c *qt.C) []string {
	env := os.Getenv("REMOTEOBJ_TEST_ETCD_ENDPOINTS")
	if env == "" {
		c.Skip("REMOTEOBJ_TEST_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func newEtcdStore(c *qt.C) *tasks.EtcdStore {
	prefix := "/remoteobj-test/" + strings.ReplaceAll(c.Name(), "/", "_")
	store, err := tasks.NewEtcdStore(etcdEndpoints(c), prefix, 5*time.Second)
	c.Assert(err, qt.IsNil)
	ctx := context.Background()
	c.Assert(store.Clear(ctx), qt.IsNil)
	c.Cleanup(func() {
		store.Clear(ctx)
		store.Close()
	})
	return store
}

func TestNewEtcdStoreValidation(t *testing.T) {
	c := qt.New(t)
	_, err := tasks.NewEtcdStore(nil, "", time.Second)
	c.Assert(err, qt.Satisfies, errors.IsNotValid)
}

func TestExecutorEtcd(t *testing.T) {
	c := qt.New(t)
	exerciseManager(c, tasks.NewExecutor(newEtcdStore(c), zap.NewNop()))
}

func TestEtcdStoreNextIDConcurrent(t *testing.T) {
	c := qt.New(t)
	store := newEtcdStore(c)

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.NextID(context.Background())
			if err != nil {
				c.Errorf("NextID: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		seen[id] = true
	}
	c.Assert(seen, qt.HasLen, n)
}

func TestRemoteManagerEtcd(t *testing.T) {
	c := qt.New(t)
	addr := startManager(c, newEtcdStore(c))
	exerciseManager(c, newManagerStub(c, addr))
}

func TestOpenStore(t *testing.T) {
	c := qt.New(t)
	s, err := tasks.OpenStore(config.StoreConfig{Kind: "memory"})
	c.Assert(err, qt.IsNil)
	c.Assert(s, qt.Satisfies, func(s tasks.Store) bool {
		_, ok := s.(*tasks.MemoryStore)
		return ok
	})
	c.Assert(s.Close(), qt.IsNil)

	_, err = tasks.OpenStore(config.StoreConfig{Kind: "redis"})
	c.Assert(err, qt.Satisfies, errors.IsNotValid)
}
