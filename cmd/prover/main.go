package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kroma-network/kroma-exploit-prover/internal/logging"
	"github.com/kroma-network/kroma-exploit-prover/internal/proof"
)

var logCloser io.Closer

func main() {
	app := cli.NewApp()
	app.Name = "kroma-exploit-prover"
	app.Usage = "prove the effect of a contract call against a historical block"
	app.Version = proof.Version
	app.Flags = LogFlags()
	app.Before = initLogging
	app.After = func(*cli.Context) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "prove",
			Usage:  "Build the witness of a call and prove it",
			Flags:  ProveFlags(),
			Action: proveCommand,
		},
		{
			Name:   "verify",
			Usage:  "Verify a proof artifact against the chain and print its state diff",
			Flags:  VerifyFlags(),
			Action: verifyCommand,
		},
		{
			Name:   "serve",
			Usage:  "Serve prove and verify over JSON-RPC",
			Flags:  ServeFlags(),
			Action: serveCommand,
		},
		{
			Name:   "cert",
			Usage:  "Execute the certificate guest and optionally prove it",
			Flags:  CertFlags(),
			Action: certCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("kroma exploit prover failed", "err", err)
	}
}

func initLogging(ctx *cli.Context) error {
	config := logging.DefaultConfig
	config.Level = ctx.GlobalString(LogLevel.Name)
	config.Format = ctx.GlobalString(LogFormat.Name)
	config.File = ctx.GlobalString(LogFile.Name)
	closer, err := logging.Init(config, os.Stderr)
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
}

func proveCommand(ctx *cli.Context) error {
	runCtx, cancel := interruptContext()
	defer cancel()
	p, err := newProver(runCtx, ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	params, err := proveParams(ctx)
	if err != nil {
		return err
	}
	if ctx.Bool(ExecuteOnly.Name) {
		output, err := p.Execute(runCtx, params)
		if err != nil {
			return err
		}
		return printJSON(output)
	}
	response, err := p.Prove(runCtx, params)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ctx.String(OutputFile.Name), response.Artifact, 0o644); err != nil {
		return errors.Wrap(err, "failed to write artifact")
	}
	log.Info("proof written", "file", ctx.String(OutputFile.Name), "image", response.ImageID, "cached", response.Cached)
	if response.Anomaly != "" {
		return errors.New(response.Anomaly)
	}
	if len(response.Onchain) > 0 {
		fmt.Println(response.Onchain.String())
	}
	return nil
}

func verifyCommand(ctx *cli.Context) error {
	runCtx, cancel := interruptContext()
	defer cancel()
	enc, err := os.ReadFile(ctx.String(ArtifactFile.Name))
	if err != nil {
		return errors.Wrap(err, "failed to read artifact")
	}
	v, closeClient, err := newVerifier(runCtx, ctx)
	if err != nil {
		return err
	}
	defer closeClient()
	artifact, err := proof.DecodeArtifact(enc)
	if err != nil {
		return err
	}
	diff, err := v.Verify(runCtx, artifact)
	if err != nil {
		return err
	}
	return printJSON(diff)
}

func serveCommand(ctx *cli.Context) error {
	runCtx, cancel := interruptContext()
	defer cancel()
	p, err := newProver(runCtx, ctx)
	if err != nil {
		return err
	}
	proverServer := proof.NewServer(p, p.service, p.hostRunning)
	srv := http.Server{
		Addr:         net.JoinHostPort(ctx.String(JsonRpcAddr.Name), strconv.Itoa(ctx.Int(JsonRpcPort.Name))),
		ReadTimeout:  6 * time.Hour,
		WriteTimeout: 6 * time.Hour,
		Handler:      proverServer,
	}
	go func() {
		log.Info("serving", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to serve", "err", err)
			cancel()
		}
	}()

	<-runCtx.Done()
	proverServer.Close()
	p.client.Close()
	if err := srv.Close(); err != nil {
		log.Warn("failed to close tcp", "err", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
