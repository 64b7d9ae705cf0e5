package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/server"
	"github.com/chazu/marl/store"
)

// runServe serves the runtime over gRPC and Connect until interrupted.
func runServe(args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("marl serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.register(fs)
	grpcAddr := fs.String("grpc", "", "gRPC `address` (default server.address from the configuration)")
	httpAddr := fs.String("http", "", "Connect HTTP `address` (default: gRPC port + 1)")
	withStore := fs.Bool("store", true, "Enable the Snapshot endpoint using store.path")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	e, err := setup(&opts, stdout)
	if err != nil {
		return err
	}
	for _, path := range fs.Args() {
		if err := fileInPath(e.compiler, path); err != nil {
			return err
		}
	}

	if *grpcAddr == "" {
		*grpcAddr = e.cfg.Server.Address
	}
	if *httpAddr == "" {
		*httpAddr, err = nextPort(*grpcAddr)
		if err != nil {
			return err
		}
	}

	srvOpts := []server.Option{server.WithCompilerOptions(e.cfg.CompilerOptions())}
	if *withStore {
		st, err := store.Open(e.cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		srvOpts = append(srvOpts, server.WithStore(st))
	}

	srv := server.New(e.rt, srvOpts...)
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(stdout, "marl serving gRPC on %s, Connect on http://%s\n", *grpcAddr, *httpAddr)
	return srv.ListenAndServe(ctx, *grpcAddr, *httpAddr)
}

// nextPort answers addr with its port incremented.
func nextPort(addr string) (string, error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return "", fmt.Errorf("address %q has no port", addr)
	}
	var port int
	if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil {
		return "", fmt.Errorf("address %q: %w", addr, err)
	}
	return fmt.Sprintf("%s:%d", addr[:i], port+1), nil
}

// runSnapshot manages the snapshot store:
//
//	marl snapshot save [-name n] [paths...]   file in paths and store the image
//	marl snapshot load [-save path] [-e expr] ID
//	marl snapshot list
//	marl snapshot rm ID...
func runSnapshot(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: marl snapshot save|load|list|rm [options] [args]")
		return errUsage
	}
	sub, args := args[0], args[1:]

	var opts options
	fs := flag.NewFlagSet("marl snapshot "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.register(fs)
	name := fs.String("name", "snapshot", "Snapshot `name` (save)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg, int(opts.verbose))
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	switch sub {
	case "save":
		e, err := setup(&opts, stdout)
		if err != nil {
			return err
		}
		for _, path := range fs.Args() {
			if err := fileInPath(e.compiler, path); err != nil {
				return err
			}
		}
		snap, err := st.Save(ctx, *name, e.rt)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, snap.ID)

	case "load":
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "Usage: marl snapshot load [-save path] [-e expr] ID")
			return errUsage
		}
		vmOpts := cfg.VMOptions()
		vmOpts.Output = stdout
		rt, err := st.Load(ctx, fs.Arg(0), vmOpts)
		if err != nil {
			return err
		}
		e := &env{cfg: cfg, rt: rt, compiler: compiler.New(rt, cfg.CompilerOptions())}
		if opts.expr != "" {
			if err := evalAndPrint(e, opts.expr, stdout); err != nil {
				return err
			}
		}
		if opts.save != "" {
			if err := rt.SaveImageFile(opts.save); err != nil {
				return err
			}
		}
		if opts.expr == "" && opts.save == "" {
			runREPL(e, os.Stdin, stdout, isTerminal(os.Stdin))
		}

	case "list":
		snaps, err := st.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCREATED\tSIZE")
		for _, s := range snaps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Name, s.CreatedAt.Format(time.RFC3339), s.Size)
		}
		return tw.Flush()

	case "rm":
		if fs.NArg() == 0 {
			fmt.Fprintln(stderr, "Usage: marl snapshot rm ID...")
			return errUsage
		}
		var errs []error
		for _, id := range fs.Args() {
			if err := st.Delete(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	default:
		fmt.Fprintf(stderr, "Unknown snapshot command %q\n", sub)
		return errUsage
	}
	return nil
}

// runRemoteEval evaluates an expression on a running server.
func runRemoteEval(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("marl eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	remote := fs.String("remote", "127.0.0.1:4567", "Server gRPC `address`")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "Usage: marl eval -remote host:port expression")
		return errUsage
	}

	client, err := server.Dial(*remote)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := client.Evaluate(ctx, &server.EvalRequest{Source: strings.Join(fs.Args(), " ")})
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, resp.Output)
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	fmt.Fprintln(stdout, resp.Result)
	return nil
}
