// Package cli implements the interactive operator console for a running
// lobby: a live status table, manual countdown start, and player kicks.
// It never touches session state directly — every mutating command is
// submitted through the host loop's command channel (spec §5).
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/w3gshost/w3gshost/internal/hostloop"
)

// CLI drives the interactive console for one lobby.
type CLI struct {
	loop *hostloop.Loop
}

// NewCLI creates a console bound to a running host loop.
func NewCLI(loop *hostloop.Loop) *CLI {
	return &CLI{loop: loop}
}

// Start runs the read-eval loop until ctx is cancelled or stdin closes.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nw3gshost console ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("w3gshost> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				fmt.Printf("Error: %v\n", err)
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (c *CLI) execute(cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "slots":
		c.printSlots()
	case "countdown", "start":
		return c.cmdCountDown()
	case "kick":
		return c.cmdKick(args)
	case "quit", "exit", "q":
		fmt.Println("Closing the lobby...")
		c.loop.SubmitShutdown("operator console")
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println("\n╔════════════════════════════════════════════════╗")
	fmt.Println("║              w3gshost console commands          ║")
	fmt.Println("╠════════════════════════════════════════════════╣")
	fmt.Println("║  status        Show lobby phase and players    ║")
	fmt.Println("║  slots         Show slot table                 ║")
	fmt.Println("║  countdown     Start the countdown              ║")
	fmt.Println("║  kick <pid>    Remove a player by PID           ║")
	fmt.Println("║  quit          Close the lobby                 ║")
	fmt.Println("║  help          Show this help message          ║")
	fmt.Println("╚════════════════════════════════════════════════╝")
	fmt.Println()
}

func (c *CLI) printStatus() {
	snap := c.loop.Snapshots().Load()

	fmt.Printf("\n  Game:         %s\n", snap.GameName)
	fmt.Printf("  Phase:        %s\n", snap.Phase)
	fmt.Printf("  Players:      %d\n", snap.PlayersTotal)
	fmt.Printf("  Slots free:   %d\n", snap.SlotsFree)
	fmt.Printf("  Sync tick:    %d\n", snap.SyncCounter)
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"PID", "Name", "Loaded", "Lagging", "RTT (ms)"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, p := range snap.Players {
		tw.Append([]string{
			strconv.Itoa(int(p.PID)),
			p.Name,
			fmt.Sprintf("%v", p.Loaded),
			fmt.Sprintf("%v", p.Lagging),
			strconv.Itoa(int(p.RTTMean)),
		})
	}
	tw.Render()
	fmt.Println()
}

func (c *CLI) printSlots() {
	snap := c.loop.Snapshots().Load()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Slot", "PID", "Status", "Team", "Colour", "Race", "Handicap"})
	tw.SetBorder(true)
	for i, sl := range snap.Slots {
		tw.Append([]string{
			strconv.Itoa(i),
			strconv.Itoa(int(sl.PID)),
			slotStatusString(sl.Status),
			strconv.Itoa(int(sl.Team)),
			strconv.Itoa(int(sl.Colour)),
			strconv.Itoa(int(sl.Race)),
			strconv.Itoa(int(sl.Handicap)),
		})
	}
	tw.Render()
	fmt.Println()
}

func slotStatusString(status byte) string {
	switch status {
	case 0:
		return "open"
	case 1:
		return "closed"
	case 2:
		return "occupied"
	default:
		return "unknown"
	}
}

func (c *CLI) cmdCountDown() error {
	c.loop.SubmitStartCountDown()
	fmt.Println("Countdown command sent")
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <pid>")
	}
	pid, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[0])
	}

	c.loop.SubmitKickPlayer(byte(pid), "operator console")
	fmt.Printf("Kick command sent for PID %d\n", pid)
	return nil
}
