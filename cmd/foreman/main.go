package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/foreman/internal/daemon"
	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/setup"
	"github.com/msageha/foreman/internal/status"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "run":
		runDaemon(os.Args[2:])
	case "enqueue":
		runEnqueue(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("foreman %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	name := "foreman-project"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			if args[i][0] == '-' {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: foreman init [dir] [--name <project>]\n", args[i])
				os.Exit(1)
			}
			dir = args[i]
		}
	}

	if err := setup.Initialize(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized foreman working directory in %s\n", absDir)
}

func runDaemon(_ []string) {
	dir := findForemanDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: foreman.yaml not found. Run 'foreman init' first.")
		os.Exit(1)
	}

	cfg, err := model.LoadConfig(filepath.Join(dir, setup.ConfigFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dir, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runEnqueue(args []string) {
	var description, role string
	var tags []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--description":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--description requires a value")
				os.Exit(1)
			}
			i++
			description = args[i]
		case "--role":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--role requires a value")
				os.Exit(1)
			}
			i++
			role = args[i]
		case "--tag":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--tag requires a value")
				os.Exit(1)
			}
			i++
			tags = append(tags, args[i])
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: foreman enqueue --description <text> --role <role> [--tag <tag>]...")
			os.Exit(1)
		}
	}

	if description == "" || role == "" {
		fmt.Fprintln(os.Stderr, "usage: foreman enqueue --description <text> --role <role> [--tag <tag>]...")
		os.Exit(1)
	}
	if err := model.ValidateRole(model.Role(role)); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		os.Exit(1)
	}

	dir := findForemanDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: foreman.yaml not found. Run 'foreman init' first.")
		os.Exit(1)
	}

	cfg, err := model.LoadConfig(filepath.Join(dir, setup.ConfigFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// The daemon owns the queue file, so the CLI hands off through the
	// spool: the intake watcher validates and enqueues the spec.
	spec := model.TaskSpec{
		Description:  description,
		Role:         model.Role(role),
		PriorityTags: tags,
	}
	path, err := writeSpoolFile(spoolDir(dir, cfg), spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Queued task spec: %s\n", path)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: foreman status [--json]\n", a)
			os.Exit(1)
		}
	}

	dir := findForemanDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: foreman.yaml not found. Run 'foreman init' first.")
		os.Exit(1)
	}

	cfg, err := model.LoadConfig(filepath.Join(dir, setup.ConfigFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	statusPath := cfg.Status.Path
	if statusPath == "" {
		statusPath = "status.yaml"
	}
	queuePath := cfg.Queue.Path
	if queuePath == "" {
		queuePath = "queue.yaml"
	}
	report, err := status.Load(resolve(dir, statusPath), resolve(dir, queuePath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		if err := report.WriteJSON(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		return
	}
	report.WriteText(os.Stdout)
}

func writeSpoolFile(dir string, spec model.TaskSpec) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	data, err := yaml.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal task spec: %w", err)
	}

	// Write-then-rename so the intake watcher never sees a partial file.
	name := fmt.Sprintf("task-%d.yaml", time.Now().UnixNano())
	tmp, err := os.CreateTemp(dir, ".spool-tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp spool file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp spool file: %w", err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish spool file: %w", err)
	}
	return final, nil
}

func spoolDir(dir string, cfg model.Config) string {
	if cfg.Queue.SpoolDir != "" {
		return resolve(dir, cfg.Queue.SpoolDir)
	}
	return filepath.Join(dir, "spool")
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// findForemanDir searches for foreman.yaml in the current directory and
// ancestors.
func findForemanDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, setup.ConfigFileName)); err == nil && !info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `foreman %s - AI development task orchestration

Usage: foreman <command> [options]

Commands:
  init [dir] [--name <project>]   Initialize a working directory
  run                             Run the orchestration daemon
  enqueue [options]               Drop a task spec into the spool
  status [--json]                 Show queue status
  version                         Show version
  help                            Show this help

Enqueue options:
  --description <text>   What the task should accomplish (required)
  --role <role>          implementation|review|analysis|documentation (required)
  --tag <tag>            Priority tag, repeatable

`, version)
}
