// Package cli implements the gateway's interactive operator console: a
// line-reader loop over a handful of read-only status commands, grounded
// on the teacher's own interactive CLI loop and table rendering.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/ipban"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/registry"
)

// CLI provides the operator-facing interactive console. The only gateway
// state it changes is the ban cache, which reload-bans reloads directly,
// and the only event it emits is the shutdown request from quit — there is
// nothing else here for it to start, stop, or reconfigure.
type CLI struct {
	eventBus *events.EventBus
	queue    *queue.AdmissionQueue
	sessions *registry.SessionRegistry
	patcher  *patch.Patcher
	bans     *ipban.Cache
}

// NewCLI creates a new CLI handler.
func NewCLI(eventBus *events.EventBus, q *queue.AdmissionQueue, sessions *registry.SessionRegistry, patcher *patch.Patcher, bans *ipban.Cache) *CLI {
	return &CLI{eventBus: eventBus, queue: q, sessions: sessions, patcher: patcher, bans: bans}
}

// PrintSnapshot renders the status and patch-bucket tables once, without
// entering the interactive loop. Start calls it once when the console
// opens, and cmd/gateway calls it on every SIGUSR1, for an operator who
// wants a one-shot look without attaching to the console.
func (c *CLI) PrintSnapshot() {
	c.printStatus()
	c.printPatches()
}

// Start begins the interactive CLI loop. It returns once ctx is canceled or
// stdin reaches EOF.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nloginway gateway console ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")
	c.PrintSnapshot()

	reader := newLineReader()
	if reader == nil {
		log.Warn().Msg("cli: failed to initialize line reader, console disabled")
		<-ctx.Done()
		return
	}
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("loginway> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "patches", "p":
		c.printPatches()
	case "sessions", "sess":
		c.printSessions()
	case "reload-bans":
		return c.cmdReloadBans()
	case "quit", "exit", "q":
		fmt.Println("shutting down the gateway...")
		c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
	default:
		fmt.Printf("unknown command: %q. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  loginway gateway console                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Population, queue depth, ban list size  ║")
	fmt.Println("║  patches            Per-bucket incremental/rollup counts     ║")
	fmt.Println("║  sessions           Live connection IDs                      ║")
	fmt.Println("║  reload-bans        Re-read the CIDR ban list from disk      ║")
	fmt.Println("║  quit               Shut down the gateway                    ║")
	fmt.Println("║  help               Show this help message                   ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func (c *CLI) printStatus() {
	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Metric", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.Append([]string{"Population", fmt.Sprintf("%d / %d", c.queue.Population(), c.queue.Cap())})
	tw.Append([]string{"Queue depth", fmt.Sprintf("%d", c.queue.Len())})
	tw.Append([]string{"Live sessions", fmt.Sprintf("%d", c.sessions.Count())})
	tw.Append([]string{"Banned CIDRs", fmt.Sprintf("%d", c.bans.Count())})
	tw.Render()
	fmt.Println()
}

func (c *CLI) printPatches() {
	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Locale", "Arch", "OS", "Incremental edges", "Rollups"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, b := range c.patcher.BucketSummaries() {
		tw.Append([]string{b.Locale, b.Arch, b.OS, fmt.Sprintf("%d", b.Edges), fmt.Sprintf("%d", b.Rollups)})
	}
	tw.Render()
	fmt.Println()
}

func (c *CLI) printSessions() {
	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Connection ID"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, id := range c.sessions.IDs() {
		tw.Append([]string{id})
	}
	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdReloadBans() error {
	if err := c.bans.Reload(); err != nil {
		return err
	}
	fmt.Println("ban list reloaded")
	return nil
}

// lineReader is a minimal cross-platform line reader, kept deliberately
// dependency-free rather than pulling in a readline library for a console
// with six commands.
type lineReader struct{}

func newLineReader() *lineReader {
	return &lineReader{}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	var line string
	_, err := fmt.Scanln(&line)
	return line, err
}

func (lr *lineReader) Close() error {
	return nil
}
