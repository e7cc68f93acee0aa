// Command tasks-client is an interactive client for tasks-server.
//
//	tasks-client [-config remoteobj.yaml] [-codec json|binary|cbor] host:port
//
// Commands:
//
//	CREATE <title> <description>
//	ASSIGN <taskId> <assignee>
//	UPDATE_STATUS <taskId> OPEN|IN_PROGRESS|CLOSED
//	GET_ASSIGNED_TASKS <assignee>
//	QUIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"remoteobj/client"
	"remoteobj/config"
	"remoteobj/logging"
	"remoteobj/tasks"
)

const usage = `Usage: CREATE <title> <description>
ASSIGN <taskId> <assignee>
UPDATE_STATUS <taskId> <status>
GET_ASSIGNED_TASKS <username>`

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	codecName := flag.String("codec", "", "wire codec: json, binary or cbor (overrides config)")
	lossy := flag.Bool("lossy", false, "drop some requests")
	delayed := flag.Bool("delayed", false, "delay every send and receive")
	flag.Parse()
	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: tasks-client [-config file] [-codec name] [host:port]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if flag.NArg() == 1 {
		cfg.Client.Address = flag.Arg(0)
	}
	if *codecName != "" {
		cfg.Client.Codec = *codecName
	}
	cfg.Client.Lossy = cfg.Client.Lossy || *lossy
	cfg.Client.Delayed = cfg.Client.Delayed || *delayed
	if err := cfg.Validate(); err != nil {
		fatalf("config: %v", err)
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ct, _ := cfg.Client.CodecType()
	stub, err := client.NewStub[tasks.Manager](cfg.Client.Address,
		client.WithCodec(ct),
		client.Lossy(cfg.Client.Lossy),
		client.Delayed(cfg.Client.Delayed),
		client.WithBackoff(cfg.Client.Backoff),
		client.WithLogger(logger.Named("client")),
	)
	if err != nil {
		fatalf("stub: %v", err)
	}

	r := &repl{manager: tasks.NewManagerStub(stub), timeout: cfg.Client.Timeout, out: os.Stdout}
	if err := r.loop(); err != nil {
		logger.Error("client failed", zap.Error(err))
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tasks-client: "+format+"\n", args...)
	os.Exit(1)
}

type repl struct {
	manager tasks.Manager
	timeout time.Duration
	out     io.Writer
}

func (r *repl) loop() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string {
		var out []string
		for _, c := range []string{"CREATE", "ASSIGN", "UPDATE_STATUS", "GET_ASSIGNED_TASKS", "QUIT"} {
			if strings.HasPrefix(c, strings.ToUpper(s)) {
				out = append(out, c)
			}
		}
		return out
	})

	fmt.Fprintln(r.out, "Task Manager is available for your project. Run CREATE, ASSIGN, UPDATE_STATUS, GET_ASSIGNED_TASKS or QUIT.")
	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, "Quitting...")
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		if quit := r.exec(input); quit {
			return nil
		}
	}
}

// exec runs one command line and reports whether the user asked to quit.
func (r *repl) exec(input string) bool {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	fields := strings.Fields(input)
	var err error
	switch strings.ToUpper(fields[0]) {
	case "CREATE":
		// The description is the rest of the line.
		parts := strings.SplitN(strings.TrimSpace(input), " ", 3)
		if len(parts) < 3 {
			break
		}
		var id int
		if id, err = r.manager.CreateTask(ctx, parts[1], strings.TrimSpace(parts[2])); err == nil {
			fmt.Fprintf(r.out, "Task with %d created in %s status.\n", id, tasks.StatusOpen)
		}
		return r.report(input, err)
	case "ASSIGN":
		if len(fields) != 3 {
			break
		}
		id, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return r.report(input, perr)
		}
		if err = r.manager.AssignTask(ctx, id, fields[2]); err == nil {
			fmt.Fprintf(r.out, "Task %d assigned to %s\n", id, fields[2])
		}
		return r.report(input, err)
	case "UPDATE_STATUS":
		if len(fields) != 3 {
			break
		}
		id, perr := strconv.Atoi(fields[1])
		if perr != nil {
			return r.report(input, perr)
		}
		status := tasks.ParseStatus(fields[2])
		if err = r.manager.UpdateStatus(ctx, id, status); err == nil {
			fmt.Fprintf(r.out, "Task %d status updated to %s\n", id, status)
		}
		return r.report(input, err)
	case "GET_ASSIGNED_TASKS":
		if len(fields) != 2 {
			break
		}
		var list []tasks.Task
		if list, err = r.manager.AssignedTasks(ctx, fields[1]); err == nil {
			fmt.Fprintf(r.out, "Assigned tasks: %v\n", list)
		}
		return r.report(input, err)
	case "QUIT":
		fmt.Fprintln(r.out, "Quitting...")
		return true
	}
	fmt.Fprintln(r.out, usage)
	return false
}

func (r *repl) report(input string, err error) bool {
	if err != nil {
		fmt.Fprintf(r.out, "Error while executing command: %s: %v\n", input, err)
	}
	return false
}
