// Command tasks-demo starts two task services and runs three clients
// against them concurrently. The two services keep independent boards:
// clients 1 and 2 share the first, client 3 uses the second.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"remoteobj/client"
	"remoteobj/config"
	"remoteobj/logging"
	"remoteobj/server"
	"remoteobj/tasks"
)

func main() {
	port1 := flag.Int("port1", 8080, "port of the first service")
	port2 := flag.Int("port2", 8888, "port of the second service")
	lossy := flag.Bool("lossy", false, "run services and clients over lossy channels")
	flag.Parse()

	cfg := config.Default()
	cfg.Log.Level = "warn"
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tasks-demo: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println("This is an example application")
	if err := run(context.Background(), os.Stdout, *port1, *port2, *lossy, logger); err != nil {
		fmt.Fprintf(os.Stderr, "tasks-demo: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All clients have finished. Exiting...")
}

func run(ctx context.Context, out io.Writer, port1, port2 int, lossy bool, logger *zap.Logger) error {
	svc1, err := startService(port1, lossy, logger)
	if err != nil {
		return err
	}
	defer svc1.Stop()
	svc2, err := startService(port2, lossy, logger)
	if err != nil {
		return err
	}
	defer svc2.Stop()

	addr1, addr2 := svc1.Addr().String(), svc2.Addr().String()
	newManager := func(addr string) (tasks.Manager, error) {
		stub, err := client.NewStub[tasks.Manager](addr, client.Lossy(lossy), client.WithLogger(logger.Named("client")))
		if err != nil {
			return nil, err
		}
		return tasks.NewManagerStub(stub), nil
	}

	p := &printer{out: out}
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range []struct {
		addr string
		run  func(context.Context, *printer, tasks.Manager) error
	}{
		{addr1, client1},
		{addr1, client2},
		{addr2, client3},
	} {
		m, err := newManager(c.addr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return c.run(ctx, p, m)
		})
	}
	return g.Wait()
}

func startService(port int, lossy bool, logger *zap.Logger) (*server.Service, error) {
	svc, err := server.NewService[tasks.Manager](
		tasks.NewExecutor(tasks.NewMemoryStore(), logger.Named("tasks")),
		port,
		server.WithHost("127.0.0.1"),
		server.Lossy(lossy),
		server.WithLogger(logger.Named("server").With(zap.String("port", strconv.Itoa(port)))),
	)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("starting service on port %d: %w", port, err)
	}
	return svc, nil
}

// printer serializes the clients' output.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) assigned(ctx context.Context, who string, m tasks.Manager, assignee string) error {
	list, err := m.AssignedTasks(ctx, assignee)
	if err != nil {
		return err
	}
	p.printf("%s - Assigned tasks of %s: %v\n", who, assignee, list)
	return nil
}

// client1 creates a task for user1 and lists every user's tasks.
func client1(ctx context.Context, p *printer, m tasks.Manager) error {
	id, err := m.CreateTask(ctx, "Task 1", "Description 1")
	if err != nil {
		return err
	}
	if err := m.AssignTask(ctx, id, "user1"); err != nil {
		return err
	}
	if err := m.UpdateStatus(ctx, id, tasks.StatusInProgress); err != nil {
		return err
	}
	for _, u := range []string{"user1", "user2", "user3"} {
		if err := p.assigned(ctx, "Client1", m, u); err != nil {
			return err
		}
	}
	return nil
}

// client2 shares client1's service and creates a task for user2.
func client2(ctx context.Context, p *printer, m tasks.Manager) error {
	id, err := m.CreateTask(ctx, "Task 2", "Description 2")
	if err != nil {
		return err
	}
	if err := m.AssignTask(ctx, id, "user2"); err != nil {
		return err
	}
	for _, u := range []string{"user1", "user2", "user3"} {
		if err := p.assigned(ctx, "Client2", m, u); err != nil {
			return err
		}
	}
	return nil
}

// client3 uses the second service, whose board starts empty. Assigning
// task 2 there fails with a NotFoundError raised by the remote object.
func client3(ctx context.Context, p *printer, m tasks.Manager) error {
	for _, u := range []string{"user1", "user2"} {
		if err := p.assigned(ctx, "Client3", m, u); err != nil {
			return err
		}
	}
	id, err := m.CreateTask(ctx, "Task 3", "Description 3")
	if err != nil {
		return err
	}
	var nf *tasks.NotFoundError
	switch err := m.AssignTask(ctx, 2, "user1"); {
	case errors.As(err, &nf):
		p.printf("Client3 - Error assigning task to user1 from remote object: %v\n", err)
	case err != nil:
		return err
	}
	if err := m.AssignTask(ctx, id, "user3"); err != nil {
		return err
	}
	if err := m.UpdateStatus(ctx, id, tasks.StatusClosed); err != nil {
		return err
	}
	return p.assigned(ctx, "Client3", m, "user3")
}
