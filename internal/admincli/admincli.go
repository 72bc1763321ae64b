// Package admincli is an interactive operator console for inspecting and
// driving a running task-dispatch subsystem: registering containers,
// launching and stopping local payloads, and inspecting registry state.
// Grounded on the teacher's internal/cli command-loop (switch over
// strings.Fields), adapted to github.com/chzyer/readline for line
// editing and history instead of a bare bufio.Reader.
package admincli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/cloudai/taskmaster/internal/app"
	"github.com/cloudai/taskmaster/internal/communicator"
	"github.com/cloudai/taskmaster/internal/launcher"
	"github.com/cloudai/taskmaster/internal/umbilical"
)

// CLI is the admin console.
type CLI struct {
	service *communicator.Service
	launch  *launcher.Launcher
	driver  *app.Driver
}

// New builds a CLI bound to the running subsystem's collaborators.
func New(service *communicator.Service, l *launcher.Launcher, driver *app.Driver) *CLI {
	return &CLI{service: service, launch: l, driver: driver}
}

// Run starts the interactive read-eval-print loop until the user types
// exit/quit or closes stdin (Ctrl-D).
func (c *CLI) Run() error {
	rl, err := readline.New("taskmaster> ")
	if err != nil {
		return fmt.Errorf("admincli: failed to start console: %w", err)
	}
	defer rl.Close()

	c.printBanner(rl.Stdout())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("admincli: read error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "help":
			c.printHelp(rl.Stdout())
		case "status":
			fmt.Fprintln(rl.Stdout(), c.driver.Summary())
		case "containers":
			c.listContainers(rl.Stdout())
		case "register":
			id := ""
			if len(parts) >= 2 {
				id = parts[1]
			} else {
				id = "c-" + uuid.NewString()
				fmt.Fprintf(rl.Stdout(), "no containerId given, generated %s\n", id)
			}
			c.register(rl.Stdout(), id)
		case "launch":
			if len(parts) < 2 {
				fmt.Fprintln(rl.Stdout(), "usage: launch <containerId>")
				continue
			}
			c.launch.Launch(umbilical.ContainerId(parts[1]), launcher.LaunchContext{Tokens: []byte("console-issued")})
			fmt.Fprintf(rl.Stdout(), "launch requested for %s\n", parts[1])
		case "stop":
			if len(parts) < 2 {
				fmt.Fprintln(rl.Stdout(), "usage: stop <containerId>")
				continue
			}
			c.launch.StopContainer(umbilical.ContainerId(parts[1]))
			fmt.Fprintf(rl.Stdout(), "stop requested for %s\n", parts[1])
		case "exit", "quit":
			return nil
		default:
			fmt.Fprintf(rl.Stdout(), "unknown command %q, type 'help'\n", parts[0])
		}
	}
}

func (c *CLI) register(w io.Writer, id string) {
	cid := umbilical.ContainerId(id)
	if err := c.service.RegisterRunningContainer(cid, "local", 0); err != nil {
		fmt.Fprintf(w, "register failed: %v\n", err)
		return
	}
	c.driver.NoteContainer(cid)
	token, err := c.service.IssueToken(cid)
	if err != nil {
		fmt.Fprintf(w, "registered %s (token issue failed: %v)\n", id, err)
		return
	}
	if token == "" {
		fmt.Fprintf(w, "registered %s\n", id)
		return
	}
	fmt.Fprintf(w, "registered %s, token=%s\n", id, token)
}

func (c *CLI) listContainers(w io.Writer) {
	snapshot := c.service.Snapshot()
	if len(snapshot) == 0 {
		fmt.Fprintln(w, "(no containers registered)")
		return
	}
	for _, entry := range snapshot {
		fmt.Fprintf(w, "%-20s hasTask=%-5v attempt=%-20s pulled=%-5v lastRequestId=%s\n",
			entry.ContainerId, entry.HasTask, entry.AttemptId, entry.TaskPulled, strconv.FormatInt(entry.LastRequestId, 10))
	}
}

func (c *CLI) printBanner(w io.Writer) {
	fmt.Fprintln(w, "taskmaster admin console — type 'help' for commands")
}

func (c *CLI) printHelp(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  status                 show driver summary")
	fmt.Fprintln(w, "  containers             list registered containers")
	fmt.Fprintln(w, "  register [id]          register a container (auto-generates an id if omitted) and issue it a token")
	fmt.Fprintln(w, "  launch <id>            launch the configured payload on a registered container")
	fmt.Fprintln(w, "  stop <id>              request cooperative cancellation of a running container")
	fmt.Fprintln(w, "  exit | quit            leave the console")
}
